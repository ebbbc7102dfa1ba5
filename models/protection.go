package models

// ProtectionKind names the protection vendor or mechanism behind a signal.
type ProtectionKind string

const (
	ProtectionNone       ProtectionKind = "none"
	ProtectionCloudflare ProtectionKind = "cloudflare"
	ProtectionDataDome   ProtectionKind = "datadome"
	ProtectionIncapsula  ProtectionKind = "incapsula"
	ProtectionCaptcha    ProtectionKind = "captcha"
	ProtectionGeneric    ProtectionKind = "generic"
)

// ProtectionSignal is the outcome of one protection-detection pass. It is
// derived fresh per navigation and never persisted.
type ProtectionSignal struct {
	Present    bool
	Kind       ProtectionKind
	Confidence float64 // 0..1, fixed per rule specificity
	Evidence   string  // the marker that matched
}
