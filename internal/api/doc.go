// Package api 暴露投稿、查询、评分、晋级与对账的 HTTP 接口。写操作经由队列交给单写者处理。
package api
