package version

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

const banner = `
 ██████╗ ██████╗  ██████╗ ██████╗ ███████╗██╗    ██╗ █████╗ ████████╗ ██████╗██╗██╗
 ██╔══██╗██╔══██╗██╔═══██╗██╔══██╗██╔════╝██║    ██║██╔══██╗╚══██╔══╝██╔════╝██║██║
 ██████╔╝██████╔╝██║   ██║██████╔╝█████╗  ██║ █╗ ██║███████║   ██║   ██║     ██║██║
 ██╔═══╝ ██╔══██╗██║   ██║██╔══██╗██╔══╝  ██║███╗██║██╔══██║   ██║   ██║     ██║██║
 ██║     ██║  ██║╚██████╔╝██████╔╝███████╗╚███╔███╔╝██║  ██║   ██║   ╚██████╗██║██║
 ╚═╝     ╚═╝  ╚═╝ ╚═════╝ ╚═════╝ ╚══════╝ ╚══╝╚══╝ ╚═╝  ╚═╝   ╚═╝    ╚═════╝╚═╝╚═╝
`

// ANSI 颜色码
const (
	colorReset  = "\033[0m"
	colorCyan   = "\033[36m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
)

// PrintBanner 打印启动 Banner 和版本信息到 stderr
func PrintBanner() {
	// 检测是否为终端，非终端不输出颜色
	isTTY := term.IsTerminal(int(os.Stderr.Fd()))

	if isTTY {
		fmt.Fprintf(os.Stderr, "%s%s%s", colorCyan, banner, colorReset)
		fmt.Fprintf(os.Stderr, "  %sProbe Scheduling Engine%s\n\n", colorYellow, colorReset)
		fmt.Fprintf(os.Stderr, "%-14s %s%s%s\n", "Version:", colorGreen, Version, colorReset)
		fmt.Fprintf(os.Stderr, "%-14s %s%s%s\n", "Commit:", colorGreen, Commit, colorReset)
		fmt.Fprintf(os.Stderr, "%-14s %s%s%s\n", "Build Time:", colorGreen, BuildTime, colorReset)
		fmt.Fprintf(os.Stderr, "%-14s %s%s%s\n\n", "Built By:", colorGreen, BuiltBy, colorReset)
	} else {
		fmt.Fprint(os.Stderr, banner)
		fmt.Fprintf(os.Stderr, "  Probe Scheduling Engine\n\n")
		fmt.Fprintf(os.Stderr, "%-14s %s\n", "Version:", Version)
		fmt.Fprintf(os.Stderr, "%-14s %s\n", "Commit:", Commit)
		fmt.Fprintf(os.Stderr, "%-14s %s\n", "Build Time:", BuildTime)
		fmt.Fprintf(os.Stderr, "%-14s %s\n\n", "Built By:", BuiltBy)
	}
}
