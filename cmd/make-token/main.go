// make-token prints a bearer token for local API testing.
//
// Usage (from backend directory):
//
//	API_SECRET=... go run ./cmd/make-token --business-id <uuid> --user-id 1 --user-name Dev
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/fulfillment_backend/utils"
)

func main() {
	businessID := flag.String("business-id", "", "Required: business id (uuid)")
	userID := flag.Int("user-id", 1, "Optional: user id baked into the token")
	userName := flag.String("user-name", "Dev", "Optional: user name baked into the token")
	flag.Parse()

	if strings.TrimSpace(*businessID) == "" {
		fmt.Fprintln(os.Stderr, "--business-id is required")
		os.Exit(1)
	}

	token, err := utils.JwtGenerate(*userID, *businessID, *userName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
