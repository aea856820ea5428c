// Command keyhash prints bcrypt hashes for producer API keys, suitable for
// auth.api_key_hashes. Keys are read from the arguments, or one per line
// from stdin when no arguments are given.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/phrazzld/taskqueue/internal/service/auth"
)

func main() {
	cost := flag.Int("cost", auth.DefaultAPIKeyCost, "bcrypt cost")
	flag.Parse()

	keys := flag.Args()
	if len(keys) == 0 {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if k := strings.TrimSpace(scanner.Text()); k != "" {
				keys = append(keys, k)
			}
		}
		if err := scanner.Err(); err != nil {
			fmt.Fprintf(os.Stderr, "keyhash: reading stdin: %v\n", err)
			os.Exit(1)
		}
	}
	if len(keys) == 0 {
		fmt.Fprintln(os.Stderr, "usage: keyhash [-cost N] key...")
		os.Exit(2)
	}

	failed := false
	for _, key := range keys {
		hash, err := auth.HashAPIKey(key, *cost)
		if err != nil {
			fmt.Fprintf(os.Stderr, "keyhash: %v\n", err)
			failed = true
			continue
		}
		fmt.Println(hash)
	}
	if failed {
		os.Exit(1)
	}
}
