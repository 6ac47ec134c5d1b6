// token_gen prints a signed playback token for local testing.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/technosupport/ts-streamgw/internal/tokens"
)

func main() {
	key := flag.String("key", os.Getenv("JWT_SIGNING_KEY"), "signing key")
	user := flag.String("user", "dev-user", "user id")
	org := flag.String("org", "dev-org", "organization id")
	stream := flag.String("stream", "", "stream id to scope the token to")
	flag.Parse()

	if *key == "" {
		fmt.Fprintln(os.Stderr, "signing key required (-key or JWT_SIGNING_KEY)")
		os.Exit(1)
	}

	mgr := tokens.NewManager(*key)
	token, err := mgr.IssuePlayback(*user, *org, *stream)
	if err != nil {
		fmt.Fprintf(os.Stderr, "issue failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
