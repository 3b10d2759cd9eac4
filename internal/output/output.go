package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/oncokb/backend/internal/models"
)

// JSON prints v as indented JSON.
func JSON(w io.Writer, v interface{}) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// CompanyTable prints companies as a human-readable table.
func CompanyTable(w io.Writer, companies []models.Company) {
	if len(companies) == 0 {
		fmt.Fprintln(w, "No companies found.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tLICENSE\tSTATUS\tMODEL\tDOMAINS\tID")
	for _, c := range companies {
		domains := strings.Join(c.DomainNames(), ",")
		if domains == "" {
			domains = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			c.Name, c.LicenseType, c.LicenseStatus, c.LicenseModel, domains, c.ID)
	}
	tw.Flush()
}

// TokenTable prints a user's tokens, soonest expiration first as stored.
func TokenTable(w io.Writer, tokens []models.Token, now time.Time) {
	if len(tokens) == 0 {
		fmt.Fprintln(w, "No tokens found.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TOKEN\tEXPIRES\tRENEWABLE\tID")
	for _, t := range tokens {
		fmt.Fprintf(tw, "%s\t%s\t%v\t%s\n", t.Token, Expiry(t.Expiration, now), t.Renewable, t.ID)
	}
	tw.Flush()
}

// UserInfo prints user details.
func UserInfo(w io.Writer, u models.User) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Login:\t%s\n", u.Login)
	fmt.Fprintf(tw, "Email:\t%s\n", u.Email)
	fmt.Fprintf(tw, "Name:\t%s\n", u.FullName())
	fmt.Fprintf(tw, "License:\t%s\n", u.LicenseType.Name())
	fmt.Fprintf(tw, "Activated:\t%v\n", u.Activated)
	fmt.Fprintf(tw, "Approved:\t%v\n", u.Approved)
	if u.Company != nil {
		fmt.Fprintf(tw, "Company:\t%s\n", u.Company.Name)
	}
	fmt.Fprintf(tw, "ID:\t%s\n", u.ID)
	tw.Flush()
}

// Expiry formats an expiration relative to now ("in 5d", "expired 2h ago").
func Expiry(t, now time.Time) string {
	if !t.After(now) {
		return "expired " + since(now.Sub(t), t)
	}
	d := t.Sub(now)
	switch {
	case d < time.Hour:
		return fmt.Sprintf("in %dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("in %dh", int(d.Hours()))
	default:
		return fmt.Sprintf("in %dd", int(d.Hours()/24))
	}
}

// RelativeTime formats a timestamp relative to now (e.g. "2h ago", "3d ago").
func RelativeTime(t time.Time) string {
	return since(time.Since(t), t)
}

func since(d time.Duration, t time.Time) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 30*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}
