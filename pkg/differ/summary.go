package differ

import (
	"fmt"
	"strings"

	"github.com/agentstation/zenginsync/pkg/zengin"
)

// NoChangesSummary is the summary of an empty batch.
const NoChangesSummary = "変更なし"

// Summary renders the human-readable count of a batch, e.g.
// "新規追加: 2件、削除: 1件 (UserBankAccount影響: 5件、稼働ユーザー: 3名)".
// Zero counts are omitted and the impact suffix only appears when at least
// one dependent account is affected.
func Summary(entries []zengin.DiffEntry) string {
	c := zengin.CountEntries(entries)

	var parts []string
	if c.Creates > 0 {
		parts = append(parts, fmt.Sprintf("新規追加: %d件", c.Creates))
	}
	if c.Updates > 0 {
		parts = append(parts, fmt.Sprintf("更新: %d件", c.Updates))
	}
	if c.Deletes > 0 {
		parts = append(parts, fmt.Sprintf("削除: %d件", c.Deletes))
	}
	if len(parts) == 0 {
		return NoChangesSummary
	}

	summary := strings.Join(parts, "、")
	if c.TotalAccounts > 0 {
		summary += fmt.Sprintf(" (UserBankAccount影響: %d件、稼働ユーザー: %d名)", c.TotalAccounts, c.ActiveUsers)
	}
	return summary
}
