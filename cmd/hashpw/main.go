// Command hashpw prints the password hash expected by the users table, for
// seeding and manual account fixes.
package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"

	"artel.org/internal/identity"
)

func main() {
	log.SetFlags(0)

	var password string
	if len(os.Args) > 1 {
		password = os.Args[1]
	} else {
		fmt.Fprint(os.Stderr, "password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			log.Fatalf("read password: %v", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		log.Fatal("password must not be empty")
	}

	hash, err := identity.HashPassword(password)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}
	fmt.Println(hash)
}
