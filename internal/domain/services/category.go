package services

import (
	"strings"
	"unicode"

	"github.com/ochairo/geiger/internal/domain/entities"
)

// Canonical finding categories
const (
	CategoryWebView     = "webview"
	CategoryCrypto      = "crypto"
	CategoryLogging     = "logging"
	CategoryStorage     = "storage"
	CategoryNetwork     = "network"
	CategoryIPC         = "ipc"
	CategoryDebuggable  = "debuggable"
	CategoryBackup      = "backup"
	CategorySecrets     = "secrets"
	CategoryInjection   = "injection"
	CategoryDeepLink    = "deeplink"
	CategoryPermissions = "permissions"
	CategoryUnknown     = "uncategorized"
)

// categoryKeywords is checked in order; the first category with a matching token wins.
// Compound tokens such as "externalstorage" match two adjacent words.
var categoryKeywords = []struct {
	category string
	tokens   []string
}{
	{CategoryWebView, []string{"webview", "webviews", "javascriptinterface", "addjavascriptinterface", "setjavascriptenabled", "javascript"}},
	{CategoryDeepLink, []string{"deeplink", "deeplinks", "applink", "applinks", "scheme"}},
	{CategoryBackup, []string{"backup", "allowbackup"}},
	{CategoryDebuggable, []string{"debuggable", "debug"}},
	{CategoryCrypto, []string{"crypto", "cipher", "ecb", "des", "md5", "sha1", "hash", "keystore", "iv", "random", "securerandom"}},
	{CategorySecrets, []string{"secret", "secrets", "apikey", "password", "passwords", "token", "tokens", "credential", "credentials", "hardcoded", "aws", "firebase"}},
	{CategoryInjection, []string{"sql", "sqli", "injection", "rawquery", "execsql", "exec", "command", "traversal", "zipslip"}},
	{CategoryLogging, []string{"log", "logs", "logging", "logcat"}},
	{CategoryStorage, []string{"storage", "externalstorage", "sharedpreferences", "sharedprefs", "preferences", "sqlite", "worldreadable", "worldwritable", "sdcard"}},
	{CategoryNetwork, []string{"ssl", "tls", "http", "cleartext", "certificate", "pinning", "trustmanager", "hostname", "hostnameverifier", "network"}},
	{CategoryIPC, []string{"intent", "intents", "exported", "provider", "broadcast", "receiver", "pendingintent", "ipc", "binder", "activity", "service"}},
	{CategoryPermissions, []string{"permission", "permissions"}},
}

// genericTags mark the platform or template type and say nothing about the issue
var genericTags = map[string]struct{}{
	"file": {}, "android": {}, "mobile": {}, "apk": {}, "ios": {},
	"smali": {}, "java": {}, "kotlin": {}, "misc": {}, "generic": {},
}

// Categorize assigns a canonical category to a finding.
// An explicit rule table entry wins, then keyword classification of the rule id,
// then of the title, then of the non-generic tags, then the normalized rule id.
// Pure business logic - no I/O
func Categorize(rules map[string]string, f *entities.EngineFinding) string {
	rule := strings.ToLower(strings.TrimSpace(f.Rule))
	if c, ok := rules[rule]; ok && c != "" {
		return c
	}

	if c := classify(tokenize(f.Rule)); c != "" {
		return c
	}
	if c := classify(tokenize(f.Title)); c != "" {
		return c
	}
	var tags []string
	for _, tag := range f.Tags {
		for _, tok := range tokenize(tag) {
			if _, generic := genericTags[tok]; !generic {
				tags = append(tags, tok)
			}
		}
	}
	if c := classify(tags); c != "" {
		return c
	}

	if rule == "" {
		return CategoryUnknown
	}
	return strings.Join(tokenize(rule), "-")
}

// classify returns the first category matching words or adjacent word pairs
func classify(words []string) string {
	if len(words) == 0 {
		return ""
	}
	tokens := make(map[string]struct{}, 2*len(words))
	for i, w := range words {
		tokens[w] = struct{}{}
		if i > 0 {
			tokens[words[i-1]+w] = struct{}{}
		}
	}
	for _, ck := range categoryKeywords {
		for _, kw := range ck.tokens {
			if _, ok := tokens[kw]; ok {
				return ck.category
			}
		}
	}
	return ""
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
