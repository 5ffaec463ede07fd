package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/wombatlabs/codeband/diag"
)

func main() {
	var (
		blockFile   = flag.String("block", "", "Path to a dumped diagnostics block")
		recordFile  = flag.String("record", "", "Path to a dumped crash record")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if *blockFile == "" && *recordFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: bandview -block <file> [-i]")
		fmt.Fprintln(os.Stderr, "       bandview -record <file>")
		os.Exit(1)
	}

	if *recordFile != "" {
		if err := showRecord(*recordFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if *blockFile == "" {
			return
		}
	}

	if *interactive {
		if err := runInteractive(*blockFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := showBlock(*blockFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var (
	headingStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	alertStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))
)

func termWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return 80
}

func field(label, value string) string {
	return labelStyle.Render(label+":") + " " + valueStyle.Render(value)
}

func showBlock(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read block: %w", err)
	}
	block, err := diag.DecodeBlock(data)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	width := termWidth()
	rule := strings.Repeat("─", min(width, 72))

	fmt.Println(headingStyle.Render("Diagnostics Block") + " " + path)
	fmt.Println()

	fmt.Println("Bands:")
	for _, b := range block.Bands {
		fmt.Printf("  %-6s %#016x - %#016x (%s)\n",
			b.Kind, b.Base, b.End, sizeStr(b.End-b.Base))
	}

	fmt.Println(rule)
	fmt.Printf("Modules (%d):\n", len(block.Modules))
	if len(block.Modules) == 0 {
		fmt.Println("  none")
	}
	for _, m := range block.Modules {
		line := fmt.Sprintf("  slot %2d  %#x+%#x  %s", m.Slot, m.LoadedBase, m.LoadedSize, m.Name)
		if m.LoadedBase < m.ExpectedBase || m.LoadedBase+m.LoadedSize > m.ExpectedEnd {
			line += "  " + alertStyle.Render("OUTSIDE SLOT")
		}
		fmt.Println(line)
	}

	fmt.Println(rule)
	fmt.Printf("JIT regions (%d):\n", len(block.Regions))
	if len(block.Regions) == 0 {
		fmt.Println("  none")
	}
	for i, r := range block.Regions {
		state := r.State.String()
		if r.State == diag.RegionRwEmit {
			state = alertStyle.Render(state)
		}
		fmt.Printf("  %3d  %-9s  %-8s  %#x+%#x\n", i, r.Tier, state, r.Base, r.End-r.Base)
	}

	fmt.Println(rule)
	c := block.Counters
	fmt.Println(field("exec transitions", fmt.Sprint(c.ExecTransitions)))
	fmt.Println(field("exec denials", fmt.Sprint(c.ExecDenials)))
	fmt.Println(field("jit seals", fmt.Sprint(c.JitSeals)))
	if c.Violations > 0 {
		fmt.Println(labelStyle.Render("violations:") + " " + alertStyle.Render(fmt.Sprint(c.Violations)))
	} else {
		fmt.Println(field("violations", "0"))
	}
	if block.LastCrash != 0 {
		fmt.Println(field("last crash record", fmt.Sprintf("%#x", block.LastCrash)))
	}
	return nil
}

func showRecord(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read record: %w", err)
	}
	rec, err := diag.DecodeCrashRecord(data)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	fmt.Println(headingStyle.Render("Crash Record") + " " + path)
	fmt.Println()
	fmt.Println(labelStyle.Render("kind:") + " " + alertStyle.Render(string(rec.Kind)))
	fmt.Println(field("site", rec.Site.String()))
	fmt.Println(field("pid/tid", fmt.Sprintf("%d/%d", rec.Pid, rec.Tid)))
	fmt.Println(field("address", fmt.Sprintf("%#x", rec.Addr)))
	fmt.Println(field("size", fmt.Sprintf("%#x", rec.Size)))
	fmt.Println(field("transition", rec.OldProt.String()+" -> "+rec.NewProt.String()))

	where := "unmapped"
	if rec.HasBand {
		where = rec.Band.String() + " band"
		if rec.HasSlot {
			where += fmt.Sprintf(", slot %d", rec.Slot)
		}
	}
	fmt.Println(field("location", where))
	if rec.Message != "" {
		fmt.Println(field("message", rec.Message))
	}

	fmt.Println()
	fmt.Println("Band snapshot:")
	for _, b := range rec.Bands {
		marker := "  "
		if rec.HasBand && b.Kind == rec.Band {
			marker = alertStyle.Render("> ")
		}
		fmt.Printf("%s%-6s %#016x - %#016x\n", marker, b.Kind, b.Base, b.End)
	}
	return nil
}

func sizeStr(n uint64) string {
	switch {
	case n >= 1<<30 && n%(1<<30) == 0:
		return fmt.Sprintf("%d GiB", n>>30)
	case n >= 1<<20 && n%(1<<20) == 0:
		return fmt.Sprintf("%d MiB", n>>20)
	case n >= 1<<10 && n%(1<<10) == 0:
		return fmt.Sprintf("%d KiB", n>>10)
	}
	return fmt.Sprintf("%d B", n)
}
