package logger

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger_Builds(t *testing.T) {
	for _, cfg := range []Config{
		{Level: "debug", Pretty: true},
		{Level: "info"},
		{Level: "not-a-level"},
	} {
		log, err := NewLogger(cfg)
		if err != nil {
			t.Fatalf("NewLogger(%+v): %v", cfg, err)
		}
		log.Debug("probe")
		_ = log.Sync()
	}
}

func TestRedactHeaders_NoCredentialSurvives(t *testing.T) {
	h := http.Header{}
	h.Set("X-Api-Key", "sk-live-abc123")
	h.Set("X-Anthropic-Api-Key", "sk-ant-secret")
	h.Set("Authorization", "Bearer token999")
	h.Set("Cookie", "session=opaque")
	h.Set("Content-Type", "application/json")
	h.Add("Accept", "application/json")
	h.Add("Accept", "text/event-stream")

	out := RedactHeaders(h)

	for _, secret := range []string{"sk-live-abc123", "sk-ant-secret", "token999", "session=opaque"} {
		for key, value := range out {
			if strings.Contains(value, secret) {
				t.Errorf("secret %q leaked through header %q", secret, key)
			}
		}
	}
	for _, key := range []string{"x-api-key", "x-anthropic-api-key", "authorization", "cookie"} {
		if out[key] != Redacted {
			t.Errorf("%s = %q, want %q", key, out[key], Redacted)
		}
	}
	if out["content-type"] != "application/json" {
		t.Errorf("content-type = %q, benign header should pass through", out["content-type"])
	}
	if out["accept"] != "application/json, text/event-stream" {
		t.Errorf("accept = %q, multi-value join broken", out["accept"])
	}
}

func TestWithRedaction_NoSecretSurvives(t *testing.T) {
	const key = "sk-ant-REDACTED"

	var buf bytes.Buffer
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(&buf),
		zapcore.DebugLevel,
	)
	log := WithRedaction(zap.New(core), NewRedactor(key))

	log.Info("upstream rejected key "+key,
		zap.String("authorization", "Bearer "+key),
		zap.Error(fmt.Errorf("401 unauthorized: %s", key)),
	)
	log.With(zap.String("endpoint", "https://api.example.com?key="+key)).Warn("retrying")
	_ = log.Sync()

	out := buf.String()
	if strings.Contains(out, key) {
		t.Fatalf("secret value leaked into log output:\n%s", out)
	}
	if got := strings.Count(out, Redacted); got < 4 {
		t.Errorf("found %d %s markers, want at least 4:\n%s", got, Redacted, out)
	}
}

func TestNewRedactor_IgnoresShortAndEmptyValues(t *testing.T) {
	r := NewRedactor("", "ok")
	if got := r.Redact("ok to proceed"); got != "ok to proceed" {
		t.Errorf("placeholder value was redacted: %q", got)
	}
	var nilR *Redactor
	if got := nilR.Redact("unchanged"); got != "unchanged" {
		t.Errorf("nil redactor altered input: %q", got)
	}
}

func TestIsSensitiveHeader_CaseInsensitive(t *testing.T) {
	for _, name := range []string{"AUTHORIZATION", "x-API-key", "Cookie", "X-Anthropic-Api-Key"} {
		if !IsSensitiveHeader(name) {
			t.Errorf("IsSensitiveHeader(%q) = false", name)
		}
	}
	if IsSensitiveHeader("Content-Type") {
		t.Error("Content-Type wrongly flagged sensitive")
	}
}
