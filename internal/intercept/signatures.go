package intercept

import (
	"fmt"
	"sort"

	"github.com/dshills/gamehook/internal/host"
	"github.com/dshills/gamehook/internal/scan"
)

// Target is one named location found by signature.
type Target struct {
	Name    string
	Pattern string
	// Ref is set for data targets: the offset within the match of a
	// RIP-relative instruction whose operand is the target.
	Ref  int
	Data bool
}

// EngineTargets are located in the server executable at startup.
var EngineTargets = []Target{
	{Name: host.FnComPrintf, Pattern: "41 54 55 53 48 81 EC ?? ?? ?? ?? 84 C0 48 89 B4 24 ?? ?? ?? ?? 48 89 94 24 ?? ?? ?? ?? 48 89 8C 24"},
	{Name: host.FnCmdExecuteString, Pattern: "41 54 49 89 FC 55 53 E8 ?? ?? ?? ?? 48 8D 3D ?? ?? ?? ?? E8 ?? ?? ?? ?? 8B 1D"},
	{Name: host.FnCvarFindVar, Pattern: "55 48 89 FD 53 48 83 EC 08 E8 ?? ?? ?? ?? 48 8D 05 ?? ?? ?? ?? 48 89 C2"},
	{Name: host.FnCvarSet, Pattern: "41 57 31 C0 41 56 41 55 41 89 D5 41 54 49 89 F4 55 48 89 FD 53 48 83 EC 08"},
	{Name: host.FnSVExecuteClientCmd, Pattern: "41 55 41 89 D5 41 54 49 89 FC 48 89 F7 55 BD ?? ?? ?? ?? 53 48 83 EC 28"},
	{Name: host.FnSVSendServerCommand, Pattern: "41 55 41 54 55 48 89 FD 53 48 81 EC ?? ?? ?? ?? 84 C0 48 89 94 24 ?? ?? ?? ?? 48 89 4C 24"},
	{Name: host.FnSVSetConfigstring, Pattern: "41 57 41 56 41 55 41 54 41 89 FC 55 53 48 81 EC ?? ?? ?? ?? 64 48 8B 04 25 ?? ?? ?? ?? 48 89 84 24"},
	{Name: host.FnSVClientEnterWorld, Pattern: "41 55 31 C0 49 BD ?? ?? ?? ?? ?? ?? ?? ?? 41 54 49 89 F4 48 8D 35"},
	{Name: host.FnSVDropClient, Pattern: "41 54 55 48 89 FD 53 48 83 EC 10 8B 07 83 F8 01 74 ??"},
	{Name: host.FnSysSetModuleOffset, Pattern: "55 48 89 F5 53 48 89 FB 48 83 EC 08 48 8B 05 ?? ?? ?? ??"},
	{Name: host.DataClients, Pattern: "48 8B 05 ?? ?? ?? ?? 48 63 D5 48 69 D2 ?? ?? ?? ?? 48 01 D0", Data: true},
	{Name: host.DataServer, Pattern: "8B 15 ?? ?? ?? ?? 48 8D 3D ?? ?? ?? ?? 85 D2 0F 84", Ref: 6, Data: true},
}

// GameTargets are located in the game module once it is loaded.
var GameTargets = []Target{
	{Name: host.FnGInitGame, Pattern: "41 57 41 56 41 89 F6 41 55 41 89 D5 41 54 55 89 FD 53 48 81 EC ?? ?? ?? ??"},
	{Name: host.FnGRunFrame, Pattern: "41 54 55 53 89 FB 48 83 EC 10 8B 05 ?? ?? ?? ??"},
	{Name: host.FnClientConnect, Pattern: "41 57 4C 63 FF 41 56 41 89 F6 41 55 41 54 55 4C 89 FD 48 C1 E5 0A 53 48 81 EC ?? ?? ?? ?? 0F B6 84 24"},
	{Name: host.FnClientSpawn, Pattern: "41 57 41 56 49 89 FE 41 55 41 54 55 53 48 81 EC ?? ?? ?? ?? 4C 8B BF"},
	{Name: host.FnGDamage, Pattern: "41 57 41 56 41 55 41 54 55 53 48 81 EC ?? ?? ?? ?? 44 8B 97 ?? ?? ?? ?? 48 8B 6F"},
	{Name: host.DataEntities, Pattern: "48 8D 05 ?? ?? ?? ?? 48 63 FF 48 69 FF ?? ?? ?? ?? 48 01 C7", Data: true},
}

// Names returns every known target name, sorted.
func Names() []string {
	out := make([]string, 0, len(EngineTargets)+len(GameTargets))
	for _, t := range EngineTargets {
		out = append(out, t.Name)
	}
	for _, t := range GameTargets {
		out = append(out, t.Name)
	}
	sort.Strings(out)
	return out
}

// Known reports whether name is a target.
func Known(name string) bool {
	for _, n := range Names() {
		if n == name {
			return true
		}
	}
	return false
}

// Signatures parses the patterns of targets, replacing any named in
// overrides.
func Signatures(targets []Target, overrides map[string]string) ([]scan.Signature, error) {
	out := make([]scan.Signature, 0, len(targets))
	for _, t := range targets {
		pattern := t.Pattern
		if o, ok := overrides[t.Name]; ok {
			pattern = o
		}
		sig, err := scan.ParseSignature(t.Name, pattern)
		if err != nil {
			return nil, fmt.Errorf("signature %s: %w", t.Name, err)
		}
		out = append(out, sig)
	}
	return out, nil
}
