package native

import (
	"regexp"
	"strings"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-wallet/errors"
)

// Signatures declares the wallet ABI. Strings cross the boundary as pointers
// to NUL-terminated UTF-8.
const Signatures = `
pw_init: func(daemon-url: string, workdir: string, log-level: s32) -> string;
pw_reset: func() -> string;
pw_set_log_level: func(log-level: s32) -> string;
pw_get_version: func() -> string;
pw_get_wallet_files: func() -> string;
pw_delete_wallet: func(file-name: string) -> string;
pw_is_wallet_exist: func(path: string) -> bool;
pw_get_appconfig: func(encryption-key: string) -> string;
pw_set_appconfig: func(conf-str: string, encryption-key: string) -> string;
pw_generate_random_key: func(length: u64) -> string;
pw_get_logs_buffer: func() -> string;
pw_truncate_log: func() -> string;
pw_get_connectivity_status: func() -> string;
pw_get_address_info: func(addr: string) -> string;
pw_generate: func(path: string, password: string) -> string;
pw_restore: func(seed: string, path: string, password: string, seed-password: string) -> string;
pw_open: func(path: string, password: string) -> string;
pw_close_wallet: func(wallet-id: s64) -> string;
pw_get_opened_wallets: func() -> string;
pw_get_wallet_status: func(wallet-id: s64) -> string;
pw_get_wallet_info: func(wallet-id: s64) -> string;
pw_reset_wallet_password: func(wallet-id: s64, new-password: string) -> string;
pw_invoke: func(wallet-id: s64, params: string) -> string;
pw_get_current_tx_fee: func(priority: u64) -> u64;
pw_async_call: func(method-name: string, wallet-id: s64, params: string) -> string;
pw_try_pull_result: func(job-id: u64) -> string;
pw_sync_call: func(method-name: string, instance-id: u64, params: string) -> string;
`

// Signature is the declared type of one export.
type Signature struct {
	Name    string
	Params  []wit.Type
	Results []wit.Type
}

// CoreParams returns the core wasm parameter types the signature lowers to.
func (s *Signature) CoreParams() ([]api.ValueType, error) {
	return coreTypes(s.Name, s.Params)
}

// CoreResults returns the core wasm result types the signature lowers to.
func (s *Signature) CoreResults() ([]api.ValueType, error) {
	return coreTypes(s.Name, s.Results)
}

func coreTypes(name string, ts []wit.Type) ([]api.ValueType, error) {
	out := make([]api.ValueType, 0, len(ts))
	for i, t := range ts {
		switch t.(type) {
		case wit.String, wit.Bool, wit.S32, wit.U32:
			out = append(out, api.ValueTypeI32)
		case wit.S64, wit.U64:
			out = append(out, api.ValueTypeI64)
		default:
			return nil, errors.New(errors.PhaseParse, errors.KindTypeMismatch).
				Export(name).
				Detail("unsupported type %T at position %d", t, i).
				Build()
		}
	}
	return out, nil
}

var funcPattern = regexp.MustCompile(`(?:export\s+)?([a-zA-Z_][a-zA-Z0-9_-]*)\s*:\s*func\s*\(([^)]*)\)(?:\s*->\s*([^;]+))?`)

// ParseSignatures extracts function signatures from WIT-style text.
// Pattern: [export] name: func(params) -> result;
func ParseSignatures(text string) (map[string]*Signature, error) {
	sigs := make(map[string]*Signature)

	for _, match := range funcPattern.FindAllStringSubmatch(text, -1) {
		sig := &Signature{Name: match[1]}

		if params := strings.TrimSpace(match[2]); params != "" {
			for _, p := range strings.Split(params, ",") {
				typStr := p
				if idx := strings.LastIndex(p, ":"); idx != -1 {
					typStr = p[idx+1:]
				}
				t, err := wit.ParseType(strings.TrimSpace(typStr))
				if err != nil {
					return nil, errors.Wrap(errors.PhaseParse, errors.KindInvalidData, err, "param type "+typStr+" of "+sig.Name)
				}
				sig.Params = append(sig.Params, t)
			}
		}

		if result := strings.TrimSpace(match[3]); result != "" && result != "()" {
			t, err := wit.ParseType(result)
			if err != nil {
				return nil, errors.Wrap(errors.PhaseParse, errors.KindInvalidData, err, "result type "+result+" of "+sig.Name)
			}
			sig.Results = []wit.Type{t}
		}

		if _, err := sig.CoreParams(); err != nil {
			return nil, err
		}
		if _, err := sig.CoreResults(); err != nil {
			return nil, err
		}
		sigs[sig.Name] = sig
	}

	if len(sigs) == 0 {
		return nil, errors.InvalidInput(errors.PhaseParse, "no functions found in signature text")
	}
	return sigs, nil
}

var (
	walletSigs    map[string]*Signature
	walletSigsErr error
)

func init() {
	walletSigs, walletSigsErr = ParseSignatures(Signatures)
}

// Lookup returns the declared signature of a wallet export.
func Lookup(export string) (*Signature, error) {
	if walletSigsErr != nil {
		return nil, walletSigsErr
	}
	sig, ok := walletSigs[export]
	if !ok {
		return nil, errors.NotFound(errors.PhaseNative, "export", export)
	}
	return sig, nil
}
