package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	cl "champs/internal/cli"
	"champs/internal/game"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"golang.org/x/term"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
	gold        = color.New(color.FgHiYellow, color.Bold)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("214")).
			Padding(0, 2)
	panelTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptOptional(label string) (string, error) {
	fmt.Printf("%s: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// promptPassword reads without echo on a terminal and falls back to a plain
// line read when input is piped.
func promptPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptRequired(label)
	}
	for {
		fmt.Printf("%s: ", label)
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		if text := strings.TrimSpace(string(raw)); text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func renderChampionships(list []game.Championship) {
	accent.Println("\n== CHAMPIONSHIPS ==")
	if len(list) == 0 {
		printInfo("No championships found.")
		return
	}
	fmt.Printf("%-36s  %-24s %-9s %8s %12s %14s  %s\n", "ID", "NAME", "STATUS", "PLAYERS", "FEE", "STARTING CASH", "ENDS")
	for _, c := range list {
		fmt.Printf("%-36s  %-24s %-9s %8d %12s %14s  %s\n",
			c.ID,
			truncate(c.Name, 24),
			colorizeStatus(c.Status),
			c.ParticipantsCount,
			formatFee(c.EnrollmentFee),
			formatMoney(c.StartingCash),
			c.EndsAt.Local().Format("2006-01-02 15:04"),
		)
	}
}

func renderChampionship(c game.Championship) {
	accent.Printf("\n== %s ==\n", c.Name)
	fmt.Printf("ID:             %s\n", c.ID)
	fmt.Printf("Status:         %s\n", colorizeStatus(c.Status))
	fmt.Printf("Window:         %s -> %s\n", c.StartsAt.Local().Format(time.DateTime), c.EndsAt.Local().Format(time.DateTime))
	fmt.Printf("Starting cash:  %s\n", formatMoney(c.StartingCash))
	fmt.Printf("Entry fee:      %s\n", formatFee(c.EnrollmentFee))
	fmt.Printf("Participants:   %d\n", c.ParticipantsCount)
}

func renderEnrollment(e game.Enrollment) {
	printSuccess(fmt.Sprintf("Enrolled in %s with %s starting cash.", e.ChampionshipID, formatMoney(e.StartingCash)))
	if e.FeeDue.IsPositive() {
		printInfo(fmt.Sprintf("Entry fee due: %s", formatMoney(e.FeeDue)))
	}
}

func renderLeaderboard(lb cl.Leaderboard, me string) {
	title := "LEADERBOARD"
	if lb.Snapshot {
		title += " (snapshot " + lb.ComputedAt.Local().Format(time.DateTime) + ")"
	}
	accent.Printf("\n== %s ==\n", title)
	if len(lb.Entries) == 0 {
		printInfo("Nobody on the board yet.")
		return
	}
	fmt.Printf("%4s  %-20s %14s %14s %14s %9s %6s %12s\n", "RANK", "PLAYER", "CASH", "ASSETS", "NET WORTH", "RETURN", "TRADES", "PRIZE")
	for _, e := range lb.Entries {
		prize := "-"
		if e.Prize != nil {
			prize = gold.Sprint(formatMoney(*e.Prize))
		}
		name := truncate(e.DisplayName, 20)
		if e.UserID == me {
			name = accent.Sprintf("%-20s", name)
		} else {
			name = fmt.Sprintf("%-20s", name)
		}
		fmt.Printf("%4d  %s %14s %14s %14s %9s %6d %12s\n",
			e.Rank,
			name,
			formatMoney(e.BuyingPower),
			formatMoney(e.AssetValue),
			formatMoney(e.NetWorth),
			colorizePercent(e.ReturnPercentage),
			e.TotalTrades,
			prize,
		)
	}
	if len(lb.Failed) > 0 {
		printWarn(fmt.Sprintf("%d participant(s) could not be valued: %s", len(lb.Failed), strings.Join(lb.Failed, ", ")))
	}
}

func renderPrizePool(p cl.PrizePool) {
	if !p.Available {
		printInfo("This championship has no prize pool (free entry or no participants).")
		return
	}
	var b strings.Builder
	b.WriteString(panelTitle.Render("PRIZE POOL") + "\n\n")
	fmt.Fprintf(&b, "Participants   %d\n", p.ParticipantsCount)
	fmt.Fprintf(&b, "Entry fee      %s\n", formatMoney(p.EnrollmentFee))
	fmt.Fprintf(&b, "Total entry    %s\n", formatMoney(p.TotalEntry))
	fmt.Fprintf(&b, "Rake           %s%% (%s)\n", p.RakePercentage.Mul(decimal.NewFromInt(100)).StringFixed(0), formatMoney(p.PlatformCommission))
	fmt.Fprintf(&b, "Prize pool     %s\n", formatMoney(p.PrizePool))
	if len(p.Distribution) == 0 {
		b.WriteString("\nAt least 3 players are needed for payouts.")
	} else {
		b.WriteString("\n")
		for i, s := range p.Distribution {
			fmt.Fprintf(&b, "#%d  %3s%%  %s", s.Rank, s.Percentage.Mul(decimal.NewFromInt(100)).StringFixed(0), formatMoney(s.Amount))
			if i < len(p.Distribution)-1 {
				b.WriteString("\n")
			}
		}
	}
	fmt.Println(panelStyle.Render(b.String()))
}

func renderOrderResult(r game.OrderResult) {
	verb := "Bought"
	if r.Side == game.KindSell {
		verb = "Sold"
	}
	printSuccess(fmt.Sprintf("%s %s %s @ %s (total %s)", verb, r.Quantity.String(), r.Symbol, formatMoney(r.Price), formatMoney(r.Notional)))
	printInfo(fmt.Sprintf("Buying power: %s", formatMoney(r.BuyingPower)))
}

func renderPortfolio(p game.Portfolio) {
	accent.Println("\n== HOLDINGS ==")
	fmt.Printf("Buying power:  %s\n", formatMoney(p.BuyingPower))
	fmt.Printf("Net worth:     %s\n\n", formatMoney(p.NetWorth))
	if len(p.Holdings) == 0 {
		printInfo("No open positions yet.")
		return
	}
	fmt.Printf("%-10s %14s %12s %12s %14s %14s\n", "SYMBOL", "QTY", "AVG", "NOW", "VALUE", "P/L")
	for _, h := range p.Holdings {
		now := formatMoney(h.CurrentPrice)
		if !h.LivePrice {
			now += "*"
		}
		fmt.Printf("%-10s %14s %12s %12s %14s %14s\n",
			h.Symbol,
			h.Quantity.String(),
			formatMoney(h.AvgPrice),
			now,
			formatMoney(h.MarketValue),
			colorizeMoney(h.Unrealized),
		)
	}
	for _, h := range p.Holdings {
		if !h.LivePrice {
			printInfo("* no live quote, valued at average price")
			break
		}
	}
}

func colorizeStatus(s game.ChampionshipStatus) string {
	text := fmt.Sprintf("%-9s", s)
	switch s {
	case game.StatusActive:
		return success.Sprint(text)
	case game.StatusUpcoming:
		return warn.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func colorizeMoney(v decimal.Decimal) string {
	text := formatMoney(v)
	if v.IsPositive() {
		text = "+" + text
	}
	switch {
	case v.IsPositive():
		return success.Sprint(text)
	case v.IsNegative():
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func colorizePercent(v decimal.Decimal) string {
	text := v.StringFixed(2) + "%"
	switch {
	case v.IsPositive():
		return success.Sprint("+" + text)
	case v.IsNegative():
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func formatFee(v decimal.Decimal) string {
	if !v.IsPositive() {
		return "free"
	}
	return formatMoney(v)
}

func formatMoney(v decimal.Decimal) string {
	text := v.Abs().StringFixed(2)
	whole, frac, _ := strings.Cut(text, ".")
	out := comma(whole) + "." + frac
	if v.IsNegative() {
		return "-" + out
	}
	return out
}

func comma(s string) string {
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		if len(s) > pre {
			b.WriteByte(',')
		}
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
