package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/wasmtier/wasmtier/api"
	"github.com/wasmtier/wasmtier/internal/wasm"
	"github.com/wasmtier/wasmtier/internal/wasm/binary"
)

func newInspectCommand(stdOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <path to wasm file>",
		Short: "Prints the sections, imports, exports and memories of a module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doInspect(cmd, args[0], stdOut)
		},
	}
}

// styles renders for one writer, so output that isn't a terminal has no escape codes.
type styles struct {
	title, heading, name, kind, detail lipgloss.Style
}

func newStyles(w io.Writer) *styles {
	r := lipgloss.NewRenderer(w)
	return &styles{
		title: r.NewStyle().Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1),
		heading: r.NewStyle().Bold(true).Underline(true),
		name:    r.NewStyle().Foreground(lipgloss.Color("#98FB98")),
		kind:    r.NewStyle().Foreground(lipgloss.Color("#87CEEB")),
		detail:  r.NewStyle().Foreground(lipgloss.Color("#666666")),
	}
}

func doInspect(cmd *cobra.Command, path string, stdOut io.Writer) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.logger.Sync() //nolint

	features, err := s.cfg.features()
	if err != nil {
		return err
	}
	bin, err := s.load(path)
	if err != nil {
		return err
	}
	m, err := binary.DecodeModule(bin, features, s.cfg.MemoryLimitPages)
	if err != nil {
		return err
	}

	st := newStyles(stdOut)
	name := "(unnamed)"
	if m.NameSection != nil && m.NameSection.ModuleName != "" {
		name = m.NameSection.ModuleName
	}
	fmt.Fprintln(stdOut, st.title.Render("module "+name))

	fmt.Fprintln(stdOut, st.heading.Render("sections"))
	for id := wasm.SectionIDCustom; id <= wasm.SectionIDDataCount; id++ {
		if n := m.SectionElementCount(id); n > 0 {
			fmt.Fprintf(stdOut, "  %-12s %d\n", wasm.SectionIDName(id), n)
		}
	}

	if len(m.ImportSection) > 0 {
		fmt.Fprintln(stdOut, st.heading.Render("imports"))
		for _, im := range m.ImportSection {
			fmt.Fprintf(stdOut, "  %s %s %s\n", st.name.Render(im.Module+"."+im.Name),
				st.kind.Render(api.ExternTypeName(im.Type)), st.detail.Render(importDetail(m, im)))
		}
	}

	if len(m.ExportSection) > 0 {
		fmt.Fprintln(stdOut, st.heading.Render("exports"))
		exports := append([]*wasm.Export(nil), m.ExportSection...)
		sort.Slice(exports, func(i, j int) bool { return exports[i].Name < exports[j].Name })
		for _, e := range exports {
			detail := fmt.Sprintf("[%d]", e.Index)
			if e.Type == api.ExternTypeFunc {
				if t := m.TypeOfFunction(e.Index); t != nil {
					detail = t.String()
				}
			}
			fmt.Fprintf(stdOut, "  %s %s %s\n", st.name.Render(e.Name), st.kind.Render(api.ExternTypeName(e.Type)),
				st.detail.Render(detail))
		}
	}

	if mem := m.MemoryType(); mem != nil {
		fmt.Fprintln(stdOut, st.heading.Render("memory"))
		fmt.Fprintf(stdOut, "  %s\n", memoryLimits(mem))
	}
	return nil
}

func importDetail(m *wasm.Module, im *wasm.Import) string {
	switch im.Type {
	case api.ExternTypeFunc:
		if int(im.DescFunc) < len(m.TypeSection) {
			return m.TypeSection[im.DescFunc].String()
		}
	case api.ExternTypeMemory:
		return memoryLimits(im.DescMem)
	case api.ExternTypeGlobal:
		if im.DescGlobal.Mutable {
			return "mut " + api.ValueTypeName(im.DescGlobal.ValType)
		}
		return api.ValueTypeName(im.DescGlobal.ValType)
	case api.ExternTypeTable:
		if im.DescTable.Max != nil {
			return fmt.Sprintf("min=%d max=%d", im.DescTable.Min, *im.DescTable.Max)
		}
		return fmt.Sprintf("min=%d", im.DescTable.Min)
	}
	return ""
}

// memoryLimits formats limits in pages, ex. "min=1 max=1024 shared".
func memoryLimits(mem *wasm.Memory) string {
	parts := []string{fmt.Sprintf("min=%d", mem.Min)}
	if mem.IsMaxEncoded {
		parts = append(parts, fmt.Sprintf("max=%d", mem.Max))
	}
	if mem.IsShared {
		parts = append(parts, "shared")
	}
	return strings.Join(parts, " ")
}
