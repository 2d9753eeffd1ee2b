package payload

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// ProtocolVersion is the only envelope version this codec understands.
const ProtocolVersion = 0

// SignatureAlgoSHA512 is the one signature_algo value defined by the format:
// SHA-512 over the payload bytes.
const SignatureAlgoSHA512 = 0

// CipherAlgoAES192CBC is the one cipher_algo_index value defined by the
// encrypted-body format: AES-192-CBC with a 16-byte IV.
const CipherAlgoAES192CBC = 0

const (
	pbkdf2Iterations = 64000
	aes192KeyLen     = 24
	ivLen            = 16
)

// fixedSalt is the PBKDF2 salt preserved from the source algorithm (see
// SPEC_FULL.md §9, Open Question 3). Tests must not assume this value.
var fixedSalt = []byte("munkey-vault-v0-")

// DeriveKey derives a 24-byte AES-192 key from password and salt using
// PBKDF2-HMAC-SHA-256 with 64,000 iterations.
func DeriveKey(password, salt []byte) []byte {
	return pbkdf2.Key(password, salt, pbkdf2Iterations, aes192KeyLen, sha256.New)
}

// DefaultSalt returns the fixed salt used when no vault-specific salt has
// been provisioned. Exposed so callers that need the §9 constant-salt
// behavior don't have to duplicate it.
func DefaultSalt() []byte {
	out := make([]byte, len(fixedSalt))
	copy(out, fixedSalt)
	return out
}

// Encrypt AES-192-CBC-PKCS7 encrypts plaintext under key with a random IV,
// returning iv||ciphertext.
func Encrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("payload: aes cipher: %w", err)
	}
	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("payload: generating iv: %w", err)
	}
	padded := pkcs7Pad(plaintext, block.BlockSize())
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	out := make([]byte, 0, ivLen+len(ciphertext))
	out = append(out, iv...)
	out = append(out, ciphertext...)
	return out, nil
}

// Decrypt splits the leading 16-byte IV from data and AES-192-CBC decrypts
// the remainder under key, removing PKCS7 padding. Returns ErrBadKey when
// the padding is invalid, which is the observable symptom of a wrong key.
func Decrypt(key, data []byte) ([]byte, error) {
	if len(data) < ivLen {
		return nil, ErrMalformedEnvelope
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("payload: aes cipher: %w", err)
	}
	iv, ciphertext := data[:ivLen], data[ivLen:]
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return nil, ErrMalformedEnvelope
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := pkcs7Unpad(plaintext, block.BlockSize())
	if err != nil {
		return nil, ErrBadKey
	}
	return unpadded, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(append([]byte{}, data...), padding...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	n := len(data)
	if n == 0 || n%blockSize != 0 {
		return nil, fmt.Errorf("payload: invalid padded length")
	}
	padLen := int(data[n-1])
	if padLen == 0 || padLen > blockSize || padLen > n {
		return nil, fmt.Errorf("payload: invalid padding")
	}
	for _, b := range data[n-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("payload: invalid padding")
		}
	}
	return data[:n-padLen], nil
}

// Body is the decoded form of the encrypted-body header defined in
// SPEC_FULL.md §3.
type Body struct {
	PayloadType uint32
	CipherAlgo  uint32
	Seed        []byte
	Data        []byte
}

// Wrap emits the encrypted-body header: payload_type, cipher_algo_index,
// seed_length, body_length, seed, body — all u32 LE.
func Wrap(payloadType, cipherAlgo uint32, seed, body []byte) []byte {
	out := make([]byte, 16+len(seed)+len(body))
	binary.LittleEndian.PutUint32(out[0:4], payloadType)
	binary.LittleEndian.PutUint32(out[4:8], cipherAlgo)
	binary.LittleEndian.PutUint32(out[8:12], uint32(len(seed)))
	binary.LittleEndian.PutUint32(out[12:16], uint32(len(body)))
	copy(out[16:16+len(seed)], seed)
	copy(out[16+len(seed):], body)
	return out
}

// Unwrap parses bytes produced by Wrap.
func Unwrap(b []byte) (*Body, error) {
	if len(b) < 16 {
		return nil, ErrMalformedEnvelope
	}
	payloadType := binary.LittleEndian.Uint32(b[0:4])
	cipherAlgo := binary.LittleEndian.Uint32(b[4:8])
	seedLen := binary.LittleEndian.Uint32(b[8:12])
	bodyLen := binary.LittleEndian.Uint32(b[12:16])
	rest := b[16:]
	if uint64(seedLen)+uint64(bodyLen) != uint64(len(rest)) {
		return nil, ErrMalformedEnvelope
	}
	seed := append([]byte{}, rest[:seedLen]...)
	body := append([]byte{}, rest[seedLen:seedLen+bodyLen]...)
	return &Body{PayloadType: payloadType, CipherAlgo: cipherAlgo, Seed: seed, Data: body}, nil
}

// JoinKey produces the plaintext body carried inside the encrypted body: the
// vault's private key (DER-encoded) followed by the length-prefixed JSON map.
func JoinKey(privateKeyDER, jsonData []byte) []byte {
	out := make([]byte, 8+len(privateKeyDER)+len(jsonData))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(privateKeyDER)))
	copy(out[4:4+len(privateKeyDER)], privateKeyDER)
	off := 4 + len(privateKeyDER)
	binary.LittleEndian.PutUint32(out[off:off+4], uint32(len(jsonData)))
	copy(out[off+4:], jsonData)
	return out
}

// SplitKey parses a JoinKey-produced plaintext body back into the private
// key DER bytes and the JSON data.
func SplitKey(plaintext []byte) (privateKeyDER, jsonData []byte, err error) {
	if len(plaintext) < 4 {
		return nil, nil, ErrMalformedEnvelope
	}
	keyLen := binary.LittleEndian.Uint32(plaintext[0:4])
	if uint64(keyLen)+4 > uint64(len(plaintext)) {
		return nil, nil, ErrMalformedEnvelope
	}
	key := plaintext[4 : 4+keyLen]
	rest := plaintext[4+keyLen:]
	if len(rest) < 4 {
		return nil, nil, ErrMalformedEnvelope
	}
	dataLen := binary.LittleEndian.Uint32(rest[0:4])
	if uint64(dataLen)+4 != uint64(len(rest)) {
		return nil, nil, ErrMalformedEnvelope
	}
	data := rest[4 : 4+dataLen]
	return append([]byte{}, key...), append([]byte{}, data...), nil
}

// NewIdentity generates an ECDSA P-256 key pair and derives the vault id
// from its SPKI-DER public key, per SPEC_FULL.md §4.1 and §9.
func NewIdentity() (vaultID string, priv *ecdsa.PrivateKey, err error) {
	priv, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", nil, fmt.Errorf("payload: generating identity: %w", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return "", nil, fmt.Errorf("payload: marshaling public key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(der), priv, nil
}

// VaultID computes the base64url vault id for a public key's SPKI-DER
// encoding, without generating a new key.
func VaultID(pub *ecdsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("payload: marshaling public key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(der), nil
}

// Sign produces a complete envelope: protocol_version=0, signature_algo=0
// (SHA-512), the ECDSA signature over sha512(payload), and payload itself.
func Sign(priv *ecdsa.PrivateKey, payload []byte) ([]byte, error) {
	digest := sha512.Sum512(payload)
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("payload: signing: %w", err)
	}

	out := make([]byte, 16+len(sig)+len(payload))
	binary.LittleEndian.PutUint32(out[0:4], ProtocolVersion)
	binary.LittleEndian.PutUint32(out[4:8], SignatureAlgoSHA512)
	binary.LittleEndian.PutUint32(out[8:12], uint32(len(sig)))
	binary.LittleEndian.PutUint32(out[12:16], uint32(len(payload)))
	copy(out[16:16+len(sig)], sig)
	copy(out[16+len(sig):], payload)
	return out, nil
}

// Verify parses envelope, rebuilds the public key from vaultID, and checks
// the signature over the payload field. On success it returns the payload
// bytes (the still-encrypted body). Returns ErrMalformedEnvelope on a
// short/mis-framed envelope, ErrUnsupportedVersion on protocol_version != 0,
// and ErrInvalidSignature on any signature or key-parsing failure.
func Verify(vaultID string, envelope []byte) ([]byte, error) {
	if len(envelope) < 16 {
		return nil, ErrMalformedEnvelope
	}
	version := binary.LittleEndian.Uint32(envelope[0:4])
	if version != ProtocolVersion {
		return nil, ErrUnsupportedVersion
	}
	sigAlgo := binary.LittleEndian.Uint32(envelope[4:8])
	sigLen := binary.LittleEndian.Uint32(envelope[8:12])
	payloadLen := binary.LittleEndian.Uint32(envelope[12:16])
	rest := envelope[16:]
	if uint64(sigLen)+uint64(payloadLen) != uint64(len(rest)) {
		return nil, ErrMalformedEnvelope
	}
	sig := rest[:sigLen]
	payloadBytes := append([]byte{}, rest[sigLen:sigLen+payloadLen]...)

	der, err := base64.RawURLEncoding.DecodeString(vaultID)
	if err != nil {
		return nil, ErrInvalidSignature
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, ErrInvalidSignature
	}
	ecPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, ErrInvalidSignature
	}

	var digest [64]byte
	switch sigAlgo {
	case SignatureAlgoSHA512:
		digest = sha512.Sum512(payloadBytes)
	default:
		return nil, ErrInvalidSignature
	}
	if !ecdsa.VerifyASN1(ecPub, digest[:], sig) {
		return nil, ErrInvalidSignature
	}
	return payloadBytes, nil
}
