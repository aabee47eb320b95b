package tui

import (
	"fmt"

	"github.com/muesli/termenv"
)

// PrintBanner outputs the espalier ASCII banner.
func PrintBanner() {
	p := termenv.ColorProfile()
	// Leaf-green gradient, light to dark.
	s1 := termenv.String("                        _ _").Foreground(p.Color("#bef264"))
	s2 := termenv.String("   ___  ___ _ __   __ _| (_) ___ _ __").Foreground(p.Color("#a3e635"))
	s3 := termenv.String("  / _ \\/ __| '_ \\ / _` | | |/ _ \\ '__|").Foreground(p.Color("#4ade80"))
	s4 := termenv.String(" |  __/\\__ \\ |_) | (_| | | |  __/ |").Foreground(p.Color("#22c55e"))
	s5 := termenv.String("  \\___||___/ .__/ \\__,_|_|_|\\___|_|").Foreground(p.Color("#16a34a"))
	s6 := termenv.String("            |_|").Foreground(p.Color("#15803d"))

	fmt.Println()
	fmt.Println(s1)
	fmt.Println(s2)
	fmt.Println(s3)
	fmt.Println(s4)
	fmt.Println(s5)
	fmt.Println(s6)
	fmt.Println()
}
