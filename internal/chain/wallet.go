package chain

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "TopEquations/internal/errors"
	"TopEquations/internal/certificate"
)

// Wallet is the on-disk key pair, both halves hex encoded.
type Wallet struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

// LoadWallet reads a wallet file.
func LoadWallet(path string) (*Wallet, error) {
	if strings.TrimSpace(path) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置钱包文件")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "读取钱包文件失败", xerrors.WithMetadata("path", path))
	}
	var w Wallet
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "钱包文件格式错误", xerrors.WithMetadata("path", path))
	}
	return &w, nil
}

// GenerateWallet creates a fresh secp256k1 key pair.
func GenerateWallet() (*Wallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "生成密钥失败")
	}
	return &Wallet{
		PublicKey:  hex.EncodeToString(crypto.FromECDSAPub(&key.PublicKey)[1:]),
		PrivateKey: hex.EncodeToString(crypto.FromECDSA(key)),
	}, nil
}

// Save writes the wallet with owner-only permissions.
func (w *Wallet) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建钱包目录失败")
	}
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return xerrors.Wrap(xerrors.CodeUnknown, err, "序列化钱包失败")
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入钱包文件失败")
	}
	return nil
}

// Signer signs canonical payloads. The digest is sha256 over the canonical
// JSON encoding; signatures are the 65-byte [R || S || V] form, hex encoded.
type Signer struct {
	key       *ecdsa.PrivateKey
	publicKey string
}

// NewSigner parses the wallet's private key. The published sender identity is
// the wallet's public key when present, otherwise the one derived from the
// private key.
func NewSigner(w *Wallet) (*Signer, error) {
	if w == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "钱包为空")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(w.PrivateKey), "0x"))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "私钥格式错误")
	}
	pub := strings.TrimPrefix(strings.TrimSpace(w.PublicKey), "0x")
	derived := hex.EncodeToString(crypto.FromECDSAPub(&key.PublicKey)[1:])
	if pub == "" {
		pub = derived
	} else if normalizePublicKey(pub) != derived {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "钱包公钥与私钥不匹配")
	}
	return &Signer{key: key, publicKey: pub}, nil
}

// PublicKey returns the sender identity used in transactions and receipts.
func (s *Signer) PublicKey() string { return s.publicKey }

// Address returns the EVM address of the key.
func (s *Signer) Address() common.Address { return crypto.PubkeyToAddress(s.key.PublicKey) }

// Sign signs the canonical encoding of v.
func (s *Signer) Sign(v any) (string, error) {
	d, err := digest(v)
	if err != nil {
		return "", err
	}
	sig, err := crypto.Sign(d, s.key)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUnknown, err, "签名失败")
	}
	return hex.EncodeToString(sig), nil
}

// VerifySignature checks sigHex over the canonical encoding of v against an
// uncompressed public key (with or without the 0x04 prefix).
func VerifySignature(publicKey string, v any, sigHex string) (bool, error) {
	d, err := digest(v)
	if err != nil {
		return false, err
	}
	pub, err := hex.DecodeString("04" + normalizePublicKey(publicKey))
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "公钥格式错误")
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) < 64 {
		return false, xerrors.New(xerrors.CodeInvalidArgument, "签名格式错误")
	}
	return crypto.VerifySignature(pub, d, sig[:64]), nil
}

func digest(v any) ([]byte, error) {
	data, err := certificate.Canonical(v)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "无法规范化签名内容")
	}
	sum := certificate.HashText(string(data))
	return hex.DecodeString(sum)
}

func normalizePublicKey(pub string) string {
	pub = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(pub), "0x"))
	if len(pub) == 130 && strings.HasPrefix(pub, "04") {
		return pub[2:]
	}
	return pub
}
