package classify

// Builtin pattern catalog. The control plane may back a classifier with
// one of these by name instead of shipping the expression.

// DefaultPatterns recognise document-level PII categories.
var DefaultPatterns = map[string]string{
	"IN_PAN":    `(?i)[A-Z]{3}[ABCFGHLJPTF]{1}[A-Z]{1}[0-9]{4}[A-Z]{1}`,
	"IN_AADHAR": `[0-9]{4}[ -]?[0-9]{4}[ -]?[0-9]{4}`,

	"CREDIT_CARD": `\b((4\d{3})|(5[0-5]\d{2})|(6\d{3})|(1\d{3})|(3\d{3}))[- ]?(\d{3,4})[- ]?(\d{3,4})[- ]?(\d{3,5})\b`,

	"EMAIL_ADDRESS": `(?i)\b((([!#$%&*+\-/=?^_` + "`" + `{|}~\w][!#$%&'*+\-/=?^_` + "`" + `{|}~\.\w]{0,}[!#$%&'*+\-/=?^_` + "`" + `{|}~\w]))[@]\w+([-.]\w+)*\.\w+([-.]\w+)*)\b`,

	"IBAN_CODE": `(?i)\b([A-Z]{2}[ \-]?[0-9]{2})((?:[ \-]?[A-Z0-9]{3,5}){2,6})([ \-]?[A-Z0-9]{1,3})?\b`,

	"CRYPTO": `(?i)\b[13][a-km-zA-HJ-NP-Z1-9]{26,33}\b`,

	"US_SSN": `\b([0-9]{3})[-.]?([0-9]{2})[-.]?([0-9]{4})\b`,

	"UK_NHS": `\b([0-9]{3})[- ]?([0-9]{3})[- ]?([0-9]{4})\b`,

	"US_ITIN": `\b9\d{2}[- ]?(5\d|6[0-5]|7\d|8[0-8]|9([0-2]|[4-9]))[- ]?\d{4}\b`,

	"US_PASSPORT": `(\b[0-9]{9}\b)|(?i)(\b[A-Z][0-9]{8}\b)`,

	"MEDICAL_LICENSE": `(?i)[abcdefghjklmprstux]{1}[a-z]{1}\d{7}|[abcdefghjklmprstux]{1}9\d{7}`,

	"US_BANK_NUMBER": `\b[0-9]{8,17}\b`,
}

// CredentialPatterns recognise secrets in configuration-style text; their
// matches pass the exclusion sentinel before reporting.
var CredentialPatterns = map[string]string{
	"AWS_CREDENTIALS": `(?i)((\s*(aws|aws(_?)secret(_?)access(_?)key(?:(_?)id)?|sha)\s*=\s*)([0-9a-zA-Z/+]{40})(\s*|$))|` +
		`((\s*(aws|aws(_?)access(?:(_?)key|(_?)key(_?)id))\s*=\s*)(AKIA[0-9A-Z]{16})(\s*|$))|` +
		`(\s*(aws(_?)security(_?)token|aws(_?)session(_?)token)\s*=\s*)([A-Za-z0-9+/]{342}\.[A-Za-z0-9+/]{4}\.)([A-Za-z0-9+/]{30})(\s*|$)`,

	"GITHUB_CREDENTIALS": `(?i)(\s*(github(_?)token|github(_?)access(_?)token|` +
		`github(_?)personal(_?)access(_?)token|github(_?)sha)\s*=\s*)([0-9a-zA-Z/+]{40})(\s*|$)`,

	"STRIPE_CREDENTIALS": `(?i)((\s*stripe(_?)secret\s*=\s*)([a-zA-Z0-9]{24}\.[a-zA-Z0-9]{32})(\s*|$))|` +
		`((\s*stripe(_?)public(_?)key\s*=\s*)(pk_test_[a-zA-Z0-9]{24})(\s*|$))`,

	"SSH_KEYS": `(?i)(\s*(ssh(-?)rsa|ssh(-?)dsa|ssh(-?)ecdsa|ssh(-?)ed25519|ecdsa(-?)sha2(-?)nistp[0-9]{3})\s*=?\s*)` +
		`((?:AAAA[0-9A-Za-z+/]+[=]{0,3})(?: [^@\s]+@[^@\s]+)?)(\s*|$)`,

	"TWILIO_CREDENTIALS": `(?i)\s*(twilio_?account_?sid|twilio_?auth_?token)\s*=\s*([a-zA-Z0-9]{32})\s*`,

	"CELERY_CREDENTIALS": `(?i)(\s*(celery(_?)broker(_?)url)\s*=\s*)(amqp[s]?://[a-zA-Z0-9_]+:[a-zA-Z0-9_]+@[a-zA-Z0-9_.]+:[0-9]+/[a-zA-Z0-9_]+)(\s*|$)`,

	"SENDGRID_CREDENTIALS": `(?i)(\s*(send(_?)grid(_?)key|send(_?)grid(_?)pass(?:word))\s*=\s*)(SG\.[a-zA-Z0-9_]{22}\.[a-zA-Z0-9_]{43})(\s*|$)`,

	"GCP_CREDENTIALS": `(?i)(\s*((google|gcp).{0,20}?)\s*=\s*)(AIza[a-zA-Z0-9]{35})(\s*|$)|` +
		`(\s*((google|gcp).{3}?(oauth|auth).{3}?(token|password))\s*=\s*)([a-zA-Z0-9-_.]{40,255})(\s*|$)|` +
		`(\s*((google|gcp).{0,20}?)\s*=\s*)\S{3,}(\s*|$)`,

	"AUTH0_CREDENTIALS": `(?i)(\s*(auth0.{0,20}?)\s*=\s*)([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})(\s*|$)`,

	"SNOWFLAKE_CREDENTIALS": `(?i)(\s*(snowflake.{0,20}?)\s*=\s*)\S{3,}(\s*|$)`,

	"PRIVATE_CREDENTIALS": `(?i)(\s*(cognitive.{0,20}?)\s*=\s*)([a-zA-Z0-9]{32})(\s*|$)|` +
		`(\s*(service_?bus_?sas_?key)\s*=\s*)([a-zA-Z0-9~!@#$%^&*()\-=_+{}\[\];:'",.<>?]{32,})(\s*|$)|` +
		`(\s*(project.{0,8}id)\s*=\s*)([a-z][-a-z0-9]{0,28}[a-z0-9])(\s*|$)|` +
		`(\s*(private.{0,20}?)\s*=\s*)([a-zA-Z0-9_-]+)(\s*|$)|` +
		`(\s*((client|user|account|login).{0,20}?)\s*=\s*)([a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,})(\s*|$)|` +
		`(\s*((client|user|account|login).{0,20}?)\s*=\s*)(4[0-9]{20})(\s*|$)|` +
		`(\s+(secret_?token|api_?id|api_?key|secret(?:_key)?|auth_?token|pwd|` +
		`username|secretkey|token|database_?pass(?:word)?|db_?pass(?:word).{0,20}?)\s*=\s*)\S{3,}(\s*|$)`,

	"OPENAI_KEY": `(?i)(\s*(open_ai|open_?ai_?key|open_?ai_?api_?key)\s*=?\s*)([a-zA-Z0-9]{32})(\s*|$)`,

	"IP_ADDRESSES": `(\b(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b)`,
}

// BuiltinPattern resolves a classifier name against both catalogs.
func BuiltinPattern(name string) (string, bool) {
	if p, ok := DefaultPatterns[name]; ok {
		return p, true
	}
	p, ok := CredentialPatterns[name]
	return p, ok
}

// IsCredentialFamily reports whether matches from the classifier must
// pass the exclusion sentinel.
func IsCredentialFamily(name string) bool {
	_, ok := CredentialPatterns[name]
	if ok {
		return true
	}
	// Control-plane-authored classifiers follow the same naming family.
	return len(name) > len("_CREDENTIALS") && name[len(name)-len("_CREDENTIALS"):] == "_CREDENTIALS"
}
