package provisioning

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
)

// newRolePassword returns 32 random bytes, hex encoded.
func newRolePassword() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate role password: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// loginDSN rewrites base so it logs in as user with password. Both URL and
// keyword/value connection strings are accepted.
func loginDSN(base, user, password string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", errors.New("no data-plane dsn to derive tenant credentials from")
	}

	var dsn string
	if strings.HasPrefix(base, "postgres://") || strings.HasPrefix(base, "postgresql://") {
		u, err := url.Parse(base)
		if err != nil {
			return "", errors.New("data-plane dsn is not a valid url")
		}
		u.User = url.UserPassword(user, password)
		dsn = u.String()
	} else {
		settings, err := splitKeywordValues(base)
		if err != nil {
			return "", err
		}
		var b strings.Builder
		for _, kv := range settings {
			if kv[0] == "user" || kv[0] == "password" {
				continue
			}
			fmt.Fprintf(&b, "%s=%s ", kv[0], quoteDSNValue(kv[1]))
		}
		fmt.Fprintf(&b, "user=%s password=%s", quoteDSNValue(user), quoteDSNValue(password))
		dsn = b.String()
	}

	// Errors from parsing are not wrapped; they may echo the connection string.
	if _, err := pgx.ParseConfig(dsn); err != nil {
		return "", errors.New("derived tenant dsn does not parse")
	}
	return dsn, nil
}

func quoteDSNValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// splitKeywordValues splits a libpq keyword/value connection string into
// ordered pairs, unquoting single-quoted values.
func splitKeywordValues(s string) ([][2]string, error) {
	var out [][2]string
	for {
		s = strings.TrimLeft(s, " \t\n\r")
		if s == "" {
			return out, nil
		}

		eq := strings.IndexByte(s, '=')
		if eq <= 0 {
			return nil, errors.New("data-plane dsn is malformed")
		}
		key := strings.TrimSpace(s[:eq])
		s = strings.TrimLeft(s[eq+1:], " \t")

		var val strings.Builder
		if strings.HasPrefix(s, "'") {
			i := 1
			for ; i < len(s) && s[i] != '\''; i++ {
				if s[i] == '\\' && i+1 < len(s) {
					i++
				}
				val.WriteByte(s[i])
			}
			if i >= len(s) {
				return nil, errors.New("data-plane dsn has an unterminated quote")
			}
			s = s[i+1:]
		} else {
			end := strings.IndexAny(s, " \t\n\r")
			if end < 0 {
				end = len(s)
			}
			val.WriteString(s[:end])
			s = s[end:]
		}
		out = append(out, [2]string{key, val.String()})
	}
}
