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

// ErrBadSignature is returned when a request signature does not recover to
// the claimed caller.
var ErrBadSignature = errors.New("crypto: bad signature")

var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// Request(address caller,string method,string path,bytes32 bodyHash,uint256 timestamp)
	requestTypeHash = ethcrypto.Keccak256(
		[]byte("Request(address caller,string method,string path,bytes32 bodyHash,uint256 timestamp)"),
	)
)

const (
	domainName    = "Pricebet"
	domainVersion = "1"
)

// Request is the signed envelope of one API call.
type Request struct {
	Caller    common.Address
	Method    string
	Path      string
	Body      []byte
	Timestamp int64
}

// Domain separates signatures by deployment.
type Domain struct {
	ChainID int64
	sep     []byte
}

// NewDomain precomputes the domain separator for chainID.
func NewDomain(chainID int64) Domain {
	return Domain{
		ChainID: chainID,
		sep: ethcrypto.Keccak256(concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(domainName)),
			ethcrypto.Keccak256([]byte(domainVersion)),
			bigIntTo32Bytes(big.NewInt(chainID)),
		)),
	}
}

// Digest is keccak256("\x19\x01" || domainSeparator || hashStruct(req)).
func (d Domain) Digest(req Request) []byte {
	structHash := ethcrypto.Keccak256(concatBytes(
		requestTypeHash,
		common.LeftPadBytes(req.Caller.Bytes(), 32),
		ethcrypto.Keccak256([]byte(strings.ToUpper(req.Method))),
		ethcrypto.Keccak256([]byte(req.Path)),
		ethcrypto.Keccak256(req.Body),
		bigIntTo32Bytes(big.NewInt(req.Timestamp)),
	))
	return ethcrypto.Keccak256(concatBytes([]byte{0x19, 0x01}, d.sep, structHash))
}

// Verify checks that sigHex was produced by req.Caller over req.
func (d Domain) Verify(req Request, sigHex string) error {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return fmt.Errorf("%w: not hex: %w", ErrBadSignature, err)
	}
	if len(sig) != ethcrypto.SignatureLength {
		return fmt.Errorf("%w: length %d", ErrBadSignature, len(sig))
	}
	// Accept v in {27,28} as produced by wallets.
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(d.Digest(req), sig)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	if got := ethcrypto.PubkeyToAddress(*pub); got != req.Caller {
		return fmt.Errorf("%w: signed by %s, not %s", ErrBadSignature, got.Hex(), req.Caller.Hex())
	}
	return nil
}

// Signer signs API requests with a secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domain     Domain
}

// NewSigner creates a Signer for key on chainID.
func NewSigner(key *ecdsa.PrivateKey, chainID int64) *Signer {
	return &Signer{
		privateKey: key,
		address:    ethcrypto.PubkeyToAddress(key.PublicKey),
		domain:     NewDomain(chainID),
	}
}

// NewSignerFromHex parses a hex private key, with or without 0x.
func NewSignerFromHex(privateKeyHex string, chainID int64) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return NewSigner(pk, chainID), nil
}

// Address returns the signer's address.
func (s *Signer) Address() common.Address { return s.address }

// SignRequest signs a request from this signer and returns a 65-byte
// hex signature with v in {27,28}.
func (s *Signer) SignRequest(method, path string, body []byte, timestamp int64) (string, error) {
	digest := s.domain.Digest(Request{
		Caller:    s.address,
		Method:    method,
		Path:      path,
		Body:      body,
		Timestamp: timestamp,
	})
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

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
