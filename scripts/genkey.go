//go:build ignore

package main

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

func main() {
	// 24 random bytes, hex encoded, behind a readable prefix
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	key := "apk_" + hex.EncodeToString(b)
	h := sha256.Sum256([]byte(key))
	hash := hex.EncodeToString(h[:])

	fmt.Println("Key:  ", key)
	fmt.Println("Actor:", "api_key:"+hash[:8])
	fmt.Println()
	fmt.Println("Add it to the server environment:")
	fmt.Printf("  API_KEYS=%s\n", key)
	fmt.Println("and to the CLI:")
	fmt.Printf("  policyctl auth %s\n", key)
}
