package jwt

import (
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/portalauth/principal"
)

// FuzzVerifyAccessToken mutates a genuine token. Whatever the verifier
// accepts must still be the original subject.
func FuzzVerifyAccessToken(f *testing.F) {
	mgr, err := NewManager(Config{
		AccessTTL:     5 * time.Minute,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("fuzz-secret-fuzz-secret-fuzz-sec"),
		Issuer:        "portal",
		RequireIAT:    true,
		KeyID:         "k1",
	})
	if err != nil {
		f.Fatal(err)
	}
	token, _, err := mgr.SignAccessToken(NewClaims("p-1", "a@uni.edu", []principal.Role{principal.RoleStaff}, principal.Scope{}, "sid-1"))
	if err != nil {
		f.Fatal(err)
	}
	parts := strings.Split(token, ".")

	f.Add(token)
	f.Add("")
	f.Add("a.b.c")
	f.Add(parts[0] + "." + parts[1] + ".")
	f.Add("eyJhbGciOiJub25lIn0." + parts[1] + ".")
	f.Add(parts[0] + "." + parts[1] + "." + strings.ToUpper(parts[2]))

	f.Fuzz(func(t *testing.T, input string) {
		claims, err := mgr.VerifyAccessToken(input)
		if err != nil {
			return
		}
		if claims == nil || claims.PrincipalID() != "p-1" {
			t.Fatalf("accepted a token that was not issued: %+v", claims)
		}
	})
}
