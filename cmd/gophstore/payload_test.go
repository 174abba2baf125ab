package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/and161185/gophstore/internal/model"
)

func Test_buildTypedPayload_Roundtrip(t *testing.T) {
	t.Parallel()

	pt, err := buildTypedPayload("login",
		map[string]any{"title": "gmail"}, map[string]any{"password": "x"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got struct {
		Type string         `json:"type"`
		Meta map[string]any `json:"meta"`
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(pt, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != "login" || got.Meta["title"] != "gmail" || got.Data["password"] != "x" {
		t.Fatalf("mismatch: %+v", got)
	}
}

func Test_payloadFor_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		kind    model.Kind
		f       fields
		wantErr bool
	}{
		{"login ok", model.KindLogin, fields{Username: "u", Password: "p", OTP: "jbswy3dpehpk3pxp"}, false},
		{"login missing password", model.KindLogin, fields{Username: "u"}, true},
		{"login bad otp", model.KindLogin, fields{Username: "u", Password: "p", OTP: "abc!"}, true},
		{"card ok", model.KindBankCard, fields{Name: "A", Number: "4532015112830366", Exp: "01/29", CVC: "123"}, false},
		{"card bad luhn", model.KindBankCard, fields{Name: "A", Number: "4532015112830367", Exp: "01/29", CVC: "123"}, true},
		{"card short cvc", model.KindBankCard, fields{Name: "A", Number: "4532015112830366", Exp: "01/29", CVC: "1"}, true},
		{"note ok", model.KindSecureNote, fields{Text: "t"}, false},
		{"note empty", model.KindSecureNote, fields{}, true},
		{"password ok", model.KindPassword, fields{Password: "p"}, false},
		{"license needs number", model.KindSoftwareLicense, fields{Name: "ide"}, true},
		{"account ok", model.KindBankAccount, fields{Number: "DE89370400440532013000"}, false},
		{"unknown kind", model.Kind(99), fields{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pt, err := payloadFor(tt.kind, tt.f)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tt.wantErr)
			}
			if err == nil && !strings.Contains(string(pt), `"type":"`+tt.kind.String()+`"`) {
				t.Fatalf("payload type missing: %s", pt)
			}
		})
	}
}

func Test_pretty_JSON_and_Raw(t *testing.T) {
	t.Parallel()

	j := []byte(`{"a":1,"b":[2,3]}`)
	p := pretty(j)
	var back map[string]any
	if err := json.Unmarshal([]byte(p), &back); err != nil {
		t.Fatalf("pretty must keep valid json: %v", err)
	}
	raw := []byte("not-json")
	if pretty(raw) != "not-json" {
		t.Fatalf("pretty(raw) should return the same string")
	}
}

func Test_readAll_File_And_Stdin(t *testing.T) {
	t.Parallel()

	tmp := filepath.Join(t.TempDir(), "f.txt")
	_ = os.WriteFile(tmp, []byte("hello"), 0o600)
	b, err := readAll(nil, tmp)
	if err != nil || string(b) != "hello" {
		t.Fatalf("readAll(file): %q %v", b, err)
	}

	b, err = readAll(strings.NewReader("from-stdin"), "-")
	if err != nil || string(b) != "from-stdin" {
		t.Fatalf("readAll(stdin): %q %v", b, err)
	}
}

func Test_printJSON_WritesPretty(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	if err := printJSON(&out, map[string]any{"a": 1}); err != nil {
		t.Fatalf("printJSON: %v", err)
	}
	var m map[string]any
	if json.Unmarshal(out.Bytes(), &m) != nil || m["a"] != float64(1) {
		t.Fatalf("printJSON produced invalid json: %s", out.String())
	}
	if !bytes.Contains(out.Bytes(), []byte("\n  ")) {
		t.Fatalf("printJSON should indent")
	}
}

func Test_validExp(t *testing.T) {
	t.Parallel()
	// format check only, months are not validated
	for _, s := range []string{"01/25", "12/99", "00/00", "13/20"} {
		if !validExp(s) {
			t.Fatalf("expected valid by regex: %s", s)
		}
	}
	for _, s := range []string{"1/25", "1/2", "aa/bb", "012/34"} {
		if validExp(s) {
			t.Fatalf("expected invalid: %s", s)
		}
	}
}

func Test_luhn(t *testing.T) {
	t.Parallel()

	for _, n := range []string{"4532015112830366", "79927398713"} {
		if !luhn(n) {
			t.Fatalf("luhn valid failed: %s", n)
		}
	}
	for _, n := range []string{"4532015112830367", "79927398710", "12a34"} {
		if luhn(n) {
			t.Fatalf("luhn should fail: %s", n)
		}
	}
}

func Test_isBase32(t *testing.T) {
	t.Parallel()
	if !isBase32("JBSWY3DPEHPK3PXP") {
		t.Fatalf("expected valid base32")
	}
	if !isBase32("jbswy3dpehpk3pxp") {
		t.Fatalf("expected valid base32 (lowercase)")
	}
	for _, s := range []string{"abc!", "====", "12345"} {
		if isBase32(s) {
			t.Fatalf("expected invalid: %q", s)
		}
	}
}

func Test_readPassword_NonTerminal(t *testing.T) {
	t.Parallel()

	in := strings.NewReader("first\r\nsecond\n")
	var out bytes.Buffer
	pw, err := readPassword(in, &out, "pw: ")
	if err != nil || string(pw) != "first" {
		t.Fatalf("first: %q %v", pw, err)
	}
	pw, err = readPassword(in, &out, "pw: ")
	if err != nil || string(pw) != "second" {
		t.Fatalf("second: %q %v", pw, err)
	}
	if _, err := readPassword(in, &out, "pw: "); err == nil {
		t.Fatalf("want error at EOF")
	}
	if out.String() != "pw: pw: pw: " {
		t.Fatalf("prompts: %q", out.String())
	}
}

func Test_newPassword_Mismatch(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	if _, err := newPassword(strings.NewReader("a\nb\n"), &out, "new: "); err == nil {
		t.Fatalf("want mismatch error")
	}
	pw, err := newPassword(strings.NewReader("a\na\n"), &out, "new: ")
	if err != nil || string(pw) != "a" {
		t.Fatalf("match: %q %v", pw, err)
	}
}
