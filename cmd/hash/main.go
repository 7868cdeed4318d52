// Package main generates credentials for seeding a deployment by hand. By default it prints an
// API key together with the bcrypt hash and lookup prefix that the api_keys table stores; only
// the hash and prefix belong in the database. With -archive-key it prints a random key for
// retention.archive.encryption_key instead.
package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/object-log/object-log/internal/auth"
	"github.com/object-log/object-log/internal/crypto"
)

func main() {
	prefix := flag.String("prefix", auth.DefaultAPIKeyPrefix, "key prefix, without the trailing underscore")
	archiveKey := flag.Bool("archive-key", false, "print a base64 archive encryption key instead")
	flag.Parse()

	if *archiveKey {
		key, err := crypto.GenerateKey()
		if err != nil {
			log.Fatalf("failed to generate archive key: %v", err)
		}
		fmt.Println(key)
		return
	}

	key, hash, lookup, err := auth.GenerateAPIKey(strings.TrimSuffix(*prefix, "_"))
	if err != nil {
		log.Fatalf("failed to generate key: %v", err)
	}
	fmt.Printf("key:    %s\n", key)
	fmt.Printf("hash:   %s\n", hash)
	fmt.Printf("prefix: %s\n", lookup)
}
