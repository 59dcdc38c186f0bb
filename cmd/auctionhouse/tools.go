package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/crypto"
	"github.com/alanyoungcy/auctionhouse/internal/server/middleware"
)

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ExitOnError)
}

// encryptKeyCmd writes the operator key, read from
// AUCTIONHOUSE_CHAIN_PRIVATE_KEY, encrypted under
// AUCTIONHOUSE_CHAIN_KEY_PASSWORD.
func encryptKeyCmd(args []string) error {
	fs := newFlagSet("encrypt-key")
	out := fs.String("out", "operator-key.json", "output file")
	_ = fs.Parse(args)

	key := os.Getenv("AUCTIONHOUSE_CHAIN_PRIVATE_KEY")
	password := os.Getenv("AUCTIONHOUSE_CHAIN_KEY_PASSWORD")
	if key == "" || password == "" {
		return errors.New("AUCTIONHOUSE_CHAIN_PRIVATE_KEY and AUCTIONHOUSE_CHAIN_KEY_PASSWORD must be set")
	}

	signer, err := crypto.NewSigner(key)
	if err != nil {
		return err
	}
	blob, err := crypto.EncryptKey(key, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, blob, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	fmt.Printf("encrypted key for %s written to %s\n", signer.Address().Hex(), *out)
	return nil
}

// signCmd prints the caller headers for one API request, signed with the
// key in AUCTIONHOUSE_CHAIN_PRIVATE_KEY. A body of "-" is read from stdin.
func signCmd(args []string) error {
	fs := newFlagSet("sign")
	method := fs.String("method", "POST", "HTTP method")
	path := fs.String("path", "", "request path, e.g. /api/auctions")
	body := fs.String("body", "", "request body")
	_ = fs.Parse(args)

	if *path == "" {
		return errors.New("-path is required")
	}
	key := os.Getenv("AUCTIONHOUSE_CHAIN_PRIVATE_KEY")
	if key == "" {
		return errors.New("AUCTIONHOUSE_CHAIN_PRIVATE_KEY must be set")
	}

	payload := []byte(*body)
	if *body == "-" {
		var err error
		if payload, err = io.ReadAll(os.Stdin); err != nil {
			return err
		}
	}

	signer, err := crypto.NewSigner(key)
	if err != nil {
		return err
	}
	ts := time.Now().Unix()
	sig, err := signer.SignRequest(*method, *path, ts, payload)
	if err != nil {
		return err
	}

	fmt.Printf("%s: %s\n", middleware.HeaderCaller, signer.Address().Hex())
	fmt.Printf("%s: %s\n", middleware.HeaderTimestamp, strconv.FormatInt(ts, 10))
	fmt.Printf("%s: %s\n", middleware.HeaderSignature, sig)
	return nil
}
