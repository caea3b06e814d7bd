package classify

import (
	"regexp"
	"strings"
)

var alnum = regexp.MustCompile(`[A-Za-z0-9]`)

// Mask hides a finding's value before it leaves the agent. Only
// alphanumerics are replaced, so the masked value keeps the length and
// punctuation of the original.
func Mask(entity, data string) string {
	if data == "" {
		return ""
	}
	switch {
	case strings.Contains(entity, "EMAIL") && strings.Contains(data, "@"):
		parts := strings.SplitN(data, "@", 2)
		domain := parts[1]
		if entity == "EMAIL_ADDRESS" {
			// Keep one leading character and the TLD.
			dot := strings.LastIndex(domain, ".")
			tld := domain[dot+1:]
			return data[:1] + maskAlnum(data[1:len(data)-len(tld)]) + tld
		}
		// Other email entities keep two leading characters and the domain.
		return data[:2] + maskAlnum(data[2:len(data)-len(domain)]) + domain
	case entity == "US_SSN" || entity == "PERSON":
		switch {
		case len(data) <= 4:
			return data[:1] + maskAlnum(data[1:])
		case len(data) <= 6:
			return data[:2] + maskAlnum(data[2:])
		default:
			return data[:2] + maskAlnum(data[2:len(data)-2]) + data[len(data)-2:]
		}
	default:
		return maskAlnum(data)
	}
}

func maskAlnum(s string) string {
	return alnum.ReplaceAllString(s, "*")
}

// Region derives the geography a classifier applies to from its name
// prefix.
func Region(classifierName string) string {
	switch {
	case strings.HasPrefix(classifierName, "US_"):
		return "USA"
	case strings.HasPrefix(classifierName, "IN_"):
		return "India"
	case strings.HasPrefix(classifierName, "UK_"):
		return "UK"
	default:
		return "All"
	}
}

var phiRe = regexp.MustCompile(
	`(?i)(\b|_)(health)(\b|_)|medical|immun|pharmacy|disease|patient|insura|(\b|_)(Rh)(\b|_)|MRN|(\b|_)(phi)(\b|_)`)

// IsPHI reports whether a name or body looks like protected health
// information.
func IsPHI(text string) bool {
	return phiRe.MatchString(text)
}

var credentialExclude = regexp.MustCompile(`(?i)(\(.*\))|(=\s*get)`)

// ExcludedCredential drops credential-family matches whose value looks
// like code rather than an assignment of a literal secret.
func ExcludedCredential(value string) bool {
	return credentialExclude.MatchString(value)
}
