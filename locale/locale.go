package locale

import (
	"context"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Header is the request and response header carrying the negotiated locale.
const Header = "x-locale"

// Supported lists the locales with a message catalog, default first.
var Supported = []language.Tag{language.English, language.Hindi}

var matcher = language.NewMatcher(Supported)

// Key names a user-facing message.
type Key string

const (
	KeyUnauthorized       Key = "unauthorized"
	KeyForbidden          Key = "forbidden"
	KeyTooManyRequests    Key = "too_many_requests"
	KeyInvalidCredentials Key = "invalid_credentials"
	KeyInvalidRequest     Key = "invalid_request"
	KeyUnavailable        Key = "service_unavailable"
	KeyNotFound           Key = "not_found"
	KeyLoggedOut          Key = "logged_out"
)

var messages = map[Key][2]string{
	KeyUnauthorized:       {"Unauthorized", "अनधिकृत"},
	KeyForbidden:          {"You do not have permission to perform this action", "आपको यह कार्य करने की अनुमति नहीं है"},
	KeyTooManyRequests:    {"Too many requests, please try again later", "बहुत अधिक अनुरोध, कृपया बाद में पुनः प्रयास करें"},
	KeyInvalidCredentials: {"Invalid email or password", "अमान्य ईमेल या पासवर्ड"},
	KeyInvalidRequest:     {"Invalid request", "अमान्य अनुरोध"},
	KeyUnavailable:        {"Service temporarily unavailable", "सेवा अस्थायी रूप से अनुपलब्ध है"},
	KeyNotFound:           {"Not found", "नहीं मिला"},
	KeyLoggedOut:          {"Logged out", "लॉग आउट हो गया"},
}

var cat = buildCatalog()

func buildCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for key, text := range messages {
		_ = b.SetString(language.English, string(key), text[0])
		_ = b.SetString(language.Hindi, string(key), text[1])
	}
	return b
}

// Negotiate picks the best supported locale for a header value in
// Accept-Language syntax ("hi", "hi-IN", "fr;q=0.9, hi;q=0.8"). Anything
// unparseable or unsupported yields English.
func Negotiate(header string) language.Tag {
	header = strings.TrimSpace(header)
	if header == "" {
		return language.English
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return language.English
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return language.English
	}
	return Supported[idx]
}

type tagKey struct{}

// WithTag stores the negotiated locale in ctx.
func WithTag(ctx context.Context, tag language.Tag) context.Context {
	return context.WithValue(ctx, tagKey{}, tag)
}

// FromContext returns the locale stored by WithTag, or English.
func FromContext(ctx context.Context) language.Tag {
	if tag, ok := ctx.Value(tagKey{}).(language.Tag); ok {
		return tag
	}
	return language.English
}

// Message returns the text for key in the context's locale. Unknown keys are
// returned verbatim.
func Message(ctx context.Context, key Key) string {
	return message.NewPrinter(FromContext(ctx), message.Catalog(cat)).Sprintf(string(key))
}
