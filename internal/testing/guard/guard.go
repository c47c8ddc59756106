// Package guard puts entry points into test mode. Test files blank-import it
// so that main packages never dial postgres or redis under go test.
package guard

import "os"

func init() {
	if _, set := os.LookupEnv("REEMBOLSO_TEST_MODE"); !set {
		_ = os.Setenv("REEMBOLSO_TEST_MODE", "1")
	}
}
