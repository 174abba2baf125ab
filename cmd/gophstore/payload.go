package main

import (
	"encoding/base32"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/and161185/gophstore/internal/model"
)

// fields are the flag values a typed record can be built from.
type fields struct {
	Title    string
	URL      string
	Username string
	Password string
	OTP      string
	Text     string
	Name     string
	Number   string
	Exp      string
	CVC      string
	Note     string
}

// buildTypedPayload packs {type, meta, data} as JSON bytes.
func buildTypedPayload(typ string, meta any, data any) ([]byte, error) {
	w := map[string]any{"type": typ, "meta": meta, "data": data}
	return json.Marshal(w)
}

// payloadFor validates f for kind and builds the item payload.
func payloadFor(kind model.Kind, f fields) ([]byte, error) {
	meta := map[string]any{"title": f.Title}
	if f.Note != "" {
		meta["note"] = f.Note
	}
	data := map[string]any{}

	switch kind {
	case model.KindLogin:
		if f.Username == "" || f.Password == "" {
			return nil, errors.New("login needs --username and --password")
		}
		if f.OTP != "" && !isBase32(f.OTP) {
			return nil, errors.New("--otp must be a base32 secret")
		}
		meta["url"], meta["username"] = f.URL, f.Username
		data["password"] = f.Password
		if f.OTP != "" {
			data["otp"] = strings.ToUpper(f.OTP)
		}
	case model.KindPassword:
		if f.Password == "" {
			return nil, errors.New("password needs --password")
		}
		data["password"] = f.Password
	case model.KindBankCard:
		if f.Name == "" || f.Number == "" || f.Exp == "" || f.CVC == "" {
			return nil, errors.New("bank_card needs --name, --number, --exp and --cvc")
		}
		if !luhn(f.Number) || !validExp(f.Exp) || len(f.CVC) < 3 || len(f.CVC) > 4 {
			return nil, errors.New("invalid card fields")
		}
		meta["name"], meta["exp"] = f.Name, f.Exp
		data["number"], data["cvc"] = f.Number, f.CVC
	case model.KindSecureNote:
		if f.Text == "" {
			return nil, errors.New("secure_note needs --text")
		}
		data["text"] = f.Text
	case model.KindIdentification, model.KindBankAccount, model.KindSoftwareLicense:
		if f.Number == "" {
			return nil, fmt.Errorf("%s needs --number", kind)
		}
		meta["name"] = f.Name
		data["number"] = f.Number
	default:
		return nil, fmt.Errorf("unknown kind %v", kind)
	}
	return buildTypedPayload(kind.String(), meta, data)
}

func pretty(b []byte) string {
	var out any
	if json.Unmarshal(b, &out) == nil {
		j, _ := json.MarshalIndent(out, "", "  ")
		return string(j)
	}
	return string(b)
}

// readAll reads a file, or stdin for "-".
func readAll(in io.Reader, p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(in)
	}
	return os.ReadFile(p)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ------- validators -------

var reMMYY = regexp.MustCompile(`^\d{2}/\d{2}$`)

func validExp(mmyy string) bool { return reMMYY.MatchString(mmyy) }

func luhn(num string) bool {
	sum, alt := 0, false
	for i := len(num) - 1; i >= 0; i-- {
		c := int(num[i] - '0')
		if c < 0 || c > 9 {
			return false
		}
		if alt {
			c *= 2
			if c > 9 {
				c -= 9
			}
		}
		sum += c
		alt = !alt
	}
	return sum%10 == 0
}

func isBase32(s string) bool {
	_, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(s))
	return err == nil
}
