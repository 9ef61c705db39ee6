// Command pricebetctl manages operator keys and talks to a pricebet server
// with signed requests.
//
//	pricebetctl keygen  -out key.json
//	pricebetctl address -key key.json
//	pricebetctl sign    -key key.json -method POST -path /api/markets -body '{...}'
//	pricebetctl call    -key key.json -url http://localhost:8000 -method POST -path /api/markets -body '{...}'
package main

import (
	"bytes"
	"crypto/ecdsa"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/pricebet/internal/crypto"
	"github.com/alanyoungcy/pricebet/internal/server/middleware"
)

const passwordEnv = "PRICEBET_KEY_PASSWORD"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "keygen":
		err = runKeygen(os.Args[2:])
	case "address":
		err = runAddress(os.Args[2:])
	case "sign":
		err = runSign(os.Args[2:])
	case "call":
		err = runCall(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "pricebetctl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: pricebetctl <keygen|address|sign|call> [flags]")
}

// keyFlags are shared by every subcommand that needs a private key.
type keyFlags struct {
	raw      *string
	path     *string
	password *string
}

func addKeyFlags(fs *flag.FlagSet) keyFlags {
	return keyFlags{
		raw:      fs.String("private-key", "", "hex private key (overrides -key)"),
		path:     fs.String("key", "", "path to an encrypted key file"),
		password: fs.String("password", "", "key file password (default $"+passwordEnv+")"),
	}
}

func (k keyFlags) load() (*ecdsa.PrivateKey, error) {
	return crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    *k.raw,
		EncryptedKeyPath: *k.path,
		KeyPassword:      password(*k.password),
	})
}

func password(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(passwordEnv)
}

func runKeygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	out := fs.String("out", "key.json", "where to write the encrypted key file")
	importHex := fs.String("import", "", "encrypt this hex private key instead of generating one")
	pass := fs.String("password", "", "key file password (default $"+passwordEnv+")")
	_ = fs.Parse(args)

	var (
		key *ecdsa.PrivateKey
		err error
	)
	if *importHex != "" {
		key, err = ethcrypto.HexToECDSA(strings.TrimPrefix(*importHex, "0x"))
	} else {
		key, err = ethcrypto.GenerateKey()
	}
	if err != nil {
		return fmt.Errorf("keygen: %w", err)
	}

	blob, err := crypto.EncryptKey(key, password(*pass))
	if err != nil {
		return fmt.Errorf("keygen: %w", err)
	}
	if _, err := os.Stat(*out); err == nil {
		return fmt.Errorf("keygen: %s already exists", *out)
	}
	if err := os.WriteFile(*out, blob, 0o600); err != nil {
		return fmt.Errorf("keygen: %w", err)
	}
	fmt.Println(ethcrypto.PubkeyToAddress(key.PublicKey).Hex())
	return nil
}

func runAddress(args []string) error {
	fs := flag.NewFlagSet("address", flag.ExitOnError)
	path := fs.String("key", "key.json", "path to an encrypted key file")
	_ = fs.Parse(args)

	blob, err := os.ReadFile(*path)
	if err != nil {
		return fmt.Errorf("address: %w", err)
	}
	addr, err := crypto.KeyFileAddress(blob)
	if err != nil {
		return fmt.Errorf("address: %w", err)
	}
	fmt.Println(addr.Hex())
	return nil
}

// requestFlags describe the request being signed.
type requestFlags struct {
	chainID *int64
	method  *string
	path    *string
	body    *string
}

func addRequestFlags(fs *flag.FlagSet) requestFlags {
	return requestFlags{
		chainID: fs.Int64("chain-id", 137, "chain id of the server's signing domain"),
		method:  fs.String("method", http.MethodGet, "HTTP method"),
		path:    fs.String("path", "", "request path, e.g. /api/markets"),
		body:    fs.String("body", "", "request body; @file reads it from a file"),
	}
}

func (r requestFlags) bodyBytes() ([]byte, error) {
	if strings.HasPrefix(*r.body, "@") {
		return os.ReadFile(strings.TrimPrefix(*r.body, "@"))
	}
	return []byte(*r.body), nil
}

// signedHeaders signs the request described by rf at now.
func signedHeaders(key *ecdsa.PrivateKey, rf requestFlags, body []byte, now time.Time) (http.Header, error) {
	if *rf.path == "" || !strings.HasPrefix(*rf.path, "/") {
		return nil, errors.New("-path must start with /")
	}
	signer := crypto.NewSigner(key, *rf.chainID)
	ts := now.Unix()
	sig, err := signer.SignRequest(strings.ToUpper(*rf.method), *rf.path, body, ts)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set(middleware.HeaderAddress, signer.Address().Hex())
	h.Set(middleware.HeaderTimestamp, strconv.FormatInt(ts, 10))
	h.Set(middleware.HeaderSignature, sig)
	return h, nil
}

func runSign(args []string) error {
	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	kf := addKeyFlags(fs)
	rf := addRequestFlags(fs)
	_ = fs.Parse(args)

	key, err := kf.load()
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	body, err := rf.bodyBytes()
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	h, err := signedHeaders(key, rf, body, time.Now())
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	for _, name := range []string{middleware.HeaderAddress, middleware.HeaderTimestamp, middleware.HeaderSignature} {
		fmt.Printf("%s: %s\n", name, h.Get(name))
	}
	return nil
}

func runCall(args []string) error {
	fs := flag.NewFlagSet("call", flag.ExitOnError)
	kf := addKeyFlags(fs)
	rf := addRequestFlags(fs)
	base := fs.String("url", "http://localhost:8000", "server base URL")
	apiKey := fs.String("api-key", os.Getenv("PRICEBET_SERVER_API_KEY"), "server API key")
	timeout := fs.Duration("timeout", 15*time.Second, "request timeout")
	_ = fs.Parse(args)

	body, err := rf.bodyBytes()
	if err != nil {
		return fmt.Errorf("call: %w", err)
	}
	req, err := http.NewRequest(strings.ToUpper(*rf.method), strings.TrimRight(*base, "/")+*rf.path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("call: %w", err)
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if *apiKey != "" {
		req.Header.Set("X-API-Key", *apiKey)
	}

	// Reads go out unsigned when no key is given.
	if *kf.raw != "" || *kf.path != "" {
		key, err := kf.load()
		if err != nil {
			return fmt.Errorf("call: %w", err)
		}
		h, err := signedHeaders(key, rf, body, time.Now())
		if err != nil {
			return fmt.Errorf("call: %w", err)
		}
		for name := range h {
			req.Header.Set(name, h.Get(name))
		}
	}

	resp, err := (&http.Client{Timeout: *timeout}).Do(req)
	if err != nil {
		return fmt.Errorf("call: %w", err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("call: read response: %w", err)
	}
	fmt.Fprintln(os.Stderr, resp.Status)
	os.Stdout.Write(out)
	if len(out) > 0 && out[len(out)-1] != '\n' {
		fmt.Println()
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("call: server returned %s", resp.Status)
	}
	return nil
}
