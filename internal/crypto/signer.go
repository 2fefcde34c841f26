package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// --------------------------------------------------------------------------
// EIP-712 type hashes (pre-computed keccak256 of the canonical type strings).
// --------------------------------------------------------------------------

var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// VenueAuth(address caller,string method,string path,uint256 timestamp,uint256 nonce)
	venueAuthTypeHash = ethcrypto.Keccak256(
		[]byte("VenueAuth(address caller,string method,string path,uint256 timestamp,uint256 nonce)"),
	)
)

// DomainName is the EIP-712 domain name callers sign under.
const DomainName = "TradeVenue"

// ErrBadSignature is returned when a signature is malformed or does not
// recover to the claimed caller.
var ErrBadSignature = errors.New("crypto: bad signature")

// RequestAuth is the typed message a caller signs to prove it controls the
// address it acts as. Method and Path bind the signature to one request line;
// Timestamp is unix seconds.
type RequestAuth struct {
	Caller    common.Address
	Method    string
	Path      string
	Timestamp int64
	Nonce     uint64
}

func (a RequestAuth) structHash() []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			venueAuthTypeHash,
			common.LeftPadBytes(a.Caller.Bytes(), 32),
			ethcrypto.Keccak256([]byte(strings.ToUpper(a.Method))),
			ethcrypto.Keccak256([]byte(a.Path)),
			bigIntTo32Bytes(big.NewInt(a.Timestamp)),
			bigIntTo32Bytes(new(big.Int).SetUint64(a.Nonce)),
		),
	)
}

// Digest returns the EIP-712 digest of a under the venue domain for chainID.
func Digest(chainID int64, a RequestAuth) []byte {
	return eip712Hash(domainSeparator(DomainName, "1", chainID), a.structHash())
}

// Signer produces request signatures. The venue itself never signs; clients
// and tests use it to build the headers the verifier expects.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int64
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return newSigner(pk, chainID), nil
}

// GenerateSigner returns a Signer over a fresh random key.
func GenerateSigner(chainID int64) (*Signer, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: generate key: %w", err)
	}
	return newSigner(pk, chainID), nil
}

func newSigner(pk *ecdsa.PrivateKey, chainID int64) *Signer {
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    chainID,
	}
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignRequest signs a request line for the signer's own address. The result
// is a hex-encoded 65-byte signature with v in {27,28}.
func (s *Signer) SignRequest(method, path string, timestamp int64, nonce uint64) (string, error) {
	return s.signDigest(Digest(s.chainID, RequestAuth{
		Caller:    s.address,
		Method:    method,
		Path:      path,
		Timestamp: timestamp,
		Nonce:     nonce,
	}))
}

// Verifier checks request signatures for one chain ID.
type Verifier struct {
	domainSep []byte
}

// NewVerifier caches the domain separator for chainID.
func NewVerifier(chainID int64) *Verifier {
	return &Verifier{domainSep: domainSeparator(DomainName, "1", chainID)}
}

// Verify recovers the signer of a and reports ErrBadSignature unless it is
// a.Caller.
func (v *Verifier) Verify(a RequestAuth, signature string) error {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil || len(sig) != 65 {
		return fmt.Errorf("%w: want 65 hex-encoded bytes", ErrBadSignature)
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return fmt.Errorf("%w: recovery id %d", ErrBadSignature, sig[64])
	}

	pub, err := ethcrypto.SigToPub(eip712Hash(v.domainSep, a.structHash()), sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if got := ethcrypto.PubkeyToAddress(*pub); got != a.Caller {
		return fmt.Errorf("%w: signed by %s", ErrBadSignature, got.Hex())
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// domainSeparator returns keccak256(abi.encode(typeHash, nameHash, versionHash, chainId)).
func domainSeparator(name, version string, chainID int64) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(name)),
			ethcrypto.Keccak256([]byte(version)),
			bigIntTo32Bytes(big.NewInt(chainID)),
		),
	)
}

// eip712Hash computes the final EIP-712 digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			domainSep,
			structHash,
		),
	)
}

// signDigest signs a 32-byte digest using secp256k1 and returns the
// hex-encoded signature (r || s || v, 65 bytes).
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; EIP-712 expects v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}

	return "0x" + hex.EncodeToString(sig), nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	return common.LeftPadBytes(n.Bytes(), 32)
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
