package simulate

import (
	"bytes"
	"fmt"
	"strconv"
	"text/tabwriter"
)

// Table renders the rows of a Result as aligned text.
// Unchanged rows are listed too so the caller sees every watched account.
func Table(res *Result) string {
	var buf bytes.Buffer
	if res.Err != nil {
		fmt.Fprintf(&buf, "simulation failed (%s): %s\n", res.ErrorKind, errorText(res.Err))
	}
	fmt.Fprintf(&buf, "units consumed: %d\n", res.UnitsConsumed)
	if len(res.Rows) == 0 {
		return buf.String()
	}

	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ACCOUNT\tLAMPORTS BEFORE\tLAMPORTS AFTER\tΔ LAMPORTS\tMINT\tΔ TOKENS")
	for _, r := range res.Rows {
		mint := "-"
		switch {
		case r.After.TokenMint != nil:
			mint = r.After.TokenMint.String()
		case r.Before.TokenMint != nil:
			mint = r.Before.TokenMint.String()
		}
		tokenDelta := "-"
		if r.TokenDelta != nil {
			tokenDelta = signed(*r.TokenDelta)
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t%s\n",
			r.Address, r.Before.Lamports, r.After.Lamports, signed(r.LamportsDelta), mint, tokenDelta)
	}
	w.Flush()
	return buf.String()
}

func signed(v int64) string {
	if v > 0 {
		return "+" + strconv.FormatInt(v, 10)
	}
	return strconv.FormatInt(v, 10)
}
