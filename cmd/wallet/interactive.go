package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/tetratelabs/wazero"
	"go.bytecodealliance.org/wit"

	wasmwallet "github.com/wippyai/wasm-wallet"
	"github.com/wippyai/wasm-wallet/client"
	"github.com/wippyai/wasm-wallet/config"
	"github.com/wippyai/wasm-wallet/native"
	"github.com/wippyai/wasm-wallet/protocol"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// payloads holds a zero payload per command; commands absent here take none.
var payloads = map[protocol.Command]any{
	protocol.CmdLoadModule:          protocol.LoadModulePayload{},
	protocol.CmdInit:                protocol.InitPayload{},
	protocol.CmdSetLogLevel:         protocol.SetLogLevelPayload{},
	protocol.CmdGenerate:            protocol.GeneratePayload{},
	protocol.CmdRestore:             protocol.RestorePayload{},
	protocol.CmdOpen:                protocol.OpenPayload{},
	protocol.CmdCloseWallet:         protocol.WalletPayload{},
	protocol.CmdGetWalletStatus:     protocol.WalletPayload{},
	protocol.CmdGetWalletInfo:       protocol.WalletPayload{},
	protocol.CmdResetWalletPassword: protocol.ResetWalletPasswordPayload{},
	protocol.CmdInvoke:              protocol.InvokePayload{},
	protocol.CmdGetCurrentTxFee:     protocol.FeePayload{},
	protocol.CmdAsyncCall:           protocol.AsyncCallPayload{},
	protocol.CmdTryPullResult:       protocol.JobPayload{},
	protocol.CmdSyncCall:            protocol.SyncCallPayload{},
	protocol.CmdDeleteWallet:        protocol.DeleteWalletPayload{},
	protocol.CmdIsWalletExist:       protocol.PathPayload{},
	protocol.CmdGetAddressInfo:      protocol.AddressPayload{},
	protocol.CmdGenerateRandomKey:   protocol.RandomKeyPayload{},
	protocol.CmdGetAppConfig:        protocol.GetAppConfigPayload{},
	protocol.CmdSetAppConfig:        protocol.SetAppConfigPayload{},
}

var rawMessageType = reflect.TypeOf(json.RawMessage(nil))

type field struct {
	name string
	kind reflect.Kind
	raw  bool
}

func (f field) typeStr() string {
	switch {
	case f.raw:
		return "json"
	case f.kind == reflect.Int32:
		return "s32"
	case f.kind == reflect.Int64:
		return "s64"
	case f.kind == reflect.Uint64:
		return "u64"
	default:
		return f.kind.String()
	}
}

func payloadFields(cmd protocol.Command) []field {
	proto, ok := payloads[cmd]
	if !ok {
		return nil
	}
	t := reflect.TypeOf(proto)
	fields := make([]field, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		name, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		fields = append(fields, field{name: name, kind: sf.Type.Kind(), raw: sf.Type == rawMessageType})
	}
	return fields
}

// convertField parses a text input. Empty input leaves the key out so the
// host applies its defaults.
func convertField(value string, f field) (any, bool, error) {
	if value == "" {
		return nil, false, nil
	}
	switch {
	case f.raw:
		if json.Valid([]byte(value)) {
			return json.RawMessage(value), true, nil
		}
		return value, true, nil
	case f.kind == reflect.Int32:
		v, err := strconv.ParseInt(value, 10, 32)
		return int32(v), true, err
	case f.kind == reflect.Int64:
		v, err := strconv.ParseInt(value, 10, 64)
		return v, true, err
	case f.kind == reflect.Uint64:
		v, err := strconv.ParseUint(value, 10, 64)
		return v, true, err
	default:
		return value, true, nil
	}
}

func buildPayload(fields []field, inputs []textinput.Model) (any, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(fields))
	for i, f := range fields {
		v, ok, err := convertField(inputs[i].Value(), f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.name, err)
		}
		if ok {
			out[f.name] = v
		}
	}
	return out, nil
}

// moduleExports compiles the configured module and describes each exported
// function, using the declared wallet signature where there is one.
func moduleExports(ctx context.Context, cfg config.Config) ([]string, error) {
	bin, err := os.ReadFile(cfg.WasmPath)
	if err != nil {
		return nil, err
	}
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	compiled, err := rt.CompileModule(ctx, bin)
	if err != nil {
		return nil, err
	}

	var out []string
	for name, def := range compiled.ExportedFunctions() {
		sig, err := native.Lookup(name)
		if err != nil {
			out = append(out, fmt.Sprintf("%s %v -> %v", name, def.ParamTypes(), def.ResultTypes()))
			continue
		}
		params := make([]string, len(sig.Params))
		for i, p := range sig.Params {
			params[i] = witTypeStr(p)
		}
		result := ""
		if len(sig.Results) > 0 {
			result = " -> " + witTypeStr(sig.Results[0])
		}
		out = append(out, name+"("+strings.Join(params, ", ")+")"+result)
	}
	sort.Strings(out)
	return out, nil
}

func witTypeStr(t wit.Type) string {
	switch v := t.(type) {
	case wit.Bool:
		return "bool"
	case wit.U32:
		return "u32"
	case wit.S32:
		return "s32"
	case wit.U64:
		return "u64"
	case wit.S64:
		return "s64"
	case wit.String:
		return "string"
	case *wit.TypeDef:
		if v.Name != nil {
			return *v.Name
		}
		return "typedef"
	default:
		return fmt.Sprintf("%T", t)
	}
}

type modelState int

const (
	stateSelectCommand modelState = iota
	stateInputPayload
	stateShowResult
)

type interactiveModel struct {
	err      error
	wallet   *wasmwallet.Wallet
	wasmPath string
	result   string
	lastLog  string
	commands []protocol.Command
	fields   []field
	inputs   []textinput.Model
	selected int
	focusIdx int
	state    modelState
}

type callResultMsg struct {
	err    error
	result string
}

type logMsg string

func newInteractiveModel(w *wasmwallet.Wallet, wasmPath string) *interactiveModel {
	return &interactiveModel{
		wallet:   w,
		wasmPath: wasmPath,
		commands: protocol.Commands(),
		state:    stateSelectCommand,
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return nil
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state != stateInputPayload {
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelectCommand && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectCommand && m.selected < len(m.commands)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectCommand:
				m.prepareInputs()
				if len(m.inputs) == 0 {
					return m, m.callCommand
				}
				m.state = stateInputPayload
				return m, nil

			case stateInputPayload:
				return m, m.callCommand

			case stateShowResult:
				m.state = stateSelectCommand
				m.result = ""
				m.err = nil
			}

		case "tab":
			if m.state == stateInputPayload && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			switch m.state {
			case stateInputPayload:
				m.state = stateSelectCommand
				m.inputs = nil
			case stateShowResult:
				m.state = stateSelectCommand
				m.result = ""
				m.err = nil
			}
		}

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult

	case logMsg:
		m.lastLog = string(msg)
	}

	if m.state == stateInputPayload {
		cmds := make([]tea.Cmd, 0, len(m.inputs))
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m *interactiveModel) prepareInputs() {
	m.fields = payloadFields(m.commands[m.selected])
	m.inputs = make([]textinput.Model, len(m.fields))
	for i, f := range m.fields {
		ti := textinput.New()
		ti.Placeholder = f.typeStr()
		ti.Prompt = f.name + ": "
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func (m *interactiveModel) callCommand() tea.Msg {
	cmd := m.commands[m.selected]
	payload, err := buildPayload(m.fields, m.inputs)
	if err != nil {
		return callResultMsg{err: err}
	}

	var result json.RawMessage
	if err := m.wallet.Call(context.Background(), cmd, payload, &result); err != nil {
		return callResultMsg{err: err}
	}

	var v any
	if json.Unmarshal(result, &v) != nil {
		return callResultMsg{result: string(result)}
	}
	pretty, _ := json.MarshalIndent(v, "", "  ")
	return callResultMsg{result: string(pretty)}
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Wallet"))
	b.WriteString(" ")
	b.WriteString(m.wasmPath)
	b.WriteString("\n\n")

	cmd := m.commands[m.selected]
	switch m.state {
	case stateSelectCommand:
		b.WriteString("Select a command to send:\n\n")
		for i, c := range m.commands {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + m.formatCommand(c)))
			} else {
				b.WriteString("  " + m.formatCommand(c))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter send • q quit"))

	case stateInputPayload:
		b.WriteString(fmt.Sprintf("Sending %s\n\n", funcStyle.Render(cmd.String())))
		for i, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString(" ")
			b.WriteString(typeStyle.Render(m.fields[i].typeStr()))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter send • esc back"))

	case stateShowResult:
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", funcStyle.Render(cmd.String())))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	if m.lastLog != "" {
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("log: " + m.lastLog))
	}
	return b.String()
}

func (m *interactiveModel) formatCommand(c protocol.Command) string {
	fields := payloadFields(c)
	params := make([]string, len(fields))
	for i, f := range fields {
		params[i] = f.name + ": " + typeStyle.Render(f.typeStr())
	}
	return funcStyle.Render(c.String()) + "(" + strings.Join(params, ", ") + ")"
}

func runInteractive(w *wasmwallet.Wallet, cfg config.Config) error {
	p := tea.NewProgram(newInteractiveModel(w, cfg.WasmPath), tea.WithAltScreen())

	sub := w.Subscribe(protocol.EventLog, func(ev client.Event) {
		var line protocol.LogEvent
		if ev.Decode(&line) == nil {
			go p.Send(logMsg(line.Line))
		}
	})
	defer w.Unsubscribe(sub)

	_, err := p.Run()
	return err
}
