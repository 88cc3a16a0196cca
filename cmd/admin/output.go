package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"banklink/internal/domain/state"
)

type linkTokenView struct {
	UserID    string `json:"user_id"`
	LinkToken string `json:"link_token"`
}

type accountView struct {
	AccountID   string `json:"account_id"`
	Institution string `json:"institution"`
	Name        string `json:"name"`
	Mask        string `json:"mask"`
	Balance     string `json:"balance"`
}

type stateView struct {
	UserID          string        `json:"user_id"`
	Accounts        []accountView `json:"accounts"`
	Transactions    int           `json:"transactions"`
	TotalBalance    string        `json:"total_balance"`
	LastSync        string        `json:"last_sync,omitempty"`
	ConnectionError string        `json:"connection_error,omitempty"`
	ShowBalances    bool          `json:"show_balances"`
	FirstTime       bool          `json:"first_time"`
}

type disconnectView struct {
	AccountID      string `json:"account_id"`
	Reconciled     bool   `json:"reconciled"`
	AlreadyDeleted bool   `json:"already_deleted"`
	Message        string `json:"message,omitempty"`
	Error          string `json:"error,omitempty"`
	Remaining      int    `json:"remaining_accounts"`
}

func newStateView(userID string, st state.State) stateView {
	v := stateView{
		UserID:          userID,
		Accounts:        make([]accountView, 0, len(st.Accounts)),
		Transactions:    len(st.Transactions),
		TotalBalance:    st.TotalBalance.StringFixed(2),
		ConnectionError: st.ConnectionError,
		ShowBalances:    st.ShowBalances,
		FirstTime:       st.IsFirstTime,
	}
	if !st.LastSyncTime.IsZero() {
		v.LastSync = st.LastSyncTime.UTC().Format(time.RFC3339)
	}
	for _, acc := range st.Accounts {
		balance := "-"
		if acc.CurrentBalance.Valid {
			balance = acc.CurrentBalance.Decimal.StringFixed(2)
		}
		v.Accounts = append(v.Accounts, accountView{
			AccountID:   acc.AccountID,
			Institution: acc.InstitutionName,
			Name:        acc.Name,
			Mask:        acc.Mask,
			Balance:     balance,
		})
	}
	return v
}

func (s *session) print(v any) error {
	if s.format == "json" {
		enc := json.NewEncoder(s.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	switch v := v.(type) {
	case linkTokenView:
		fmt.Fprintln(s.out, v.LinkToken)
	case disconnectView:
		status := "reconciled"
		switch {
		case v.AlreadyDeleted:
			status = "already deleted on backend"
		case !v.Reconciled:
			status = "removed locally, backend did not confirm"
		}
		fmt.Fprintf(s.out, "Account %s: %s (%d remaining)\n", v.AccountID, status, v.Remaining)
		if v.Error != "" {
			fmt.Fprintf(s.out, "  error: %s\n", v.Error)
		} else if v.Message != "" {
			fmt.Fprintf(s.out, "  message: %s\n", v.Message)
		}
	case stateView:
		printState(s, v)
	default:
		return fmt.Errorf("unsupported view %T", v)
	}
	return nil
}

func printState(s *session, v stateView) {
	fmt.Fprintf(s.out, "User:          %s\n", v.UserID)
	fmt.Fprintf(s.out, "Accounts:      %d\n", len(v.Accounts))
	fmt.Fprintf(s.out, "Transactions:  %d\n", v.Transactions)
	fmt.Fprintf(s.out, "Total balance: %s\n", v.TotalBalance)
	if v.LastSync != "" {
		fmt.Fprintf(s.out, "Last sync:     %s\n", v.LastSync)
	}
	if v.ConnectionError != "" {
		fmt.Fprintf(s.out, "Error:         %s\n", v.ConnectionError)
	}

	if len(v.Accounts) == 0 {
		return
	}
	fmt.Fprintln(s.out)
	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tINSTITUTION\tNAME\tMASK\tBALANCE")
	for _, acc := range v.Accounts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", acc.AccountID, acc.Institution, acc.Name, acc.Mask, acc.Balance)
	}
	tw.Flush()
}
