// Package export renders diff batches as CSV for spreadsheet review.
package export

import (
	"bytes"
	"encoding/csv"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/agentstation/zenginsync/internal/notify"
	"github.com/agentstation/zenginsync/pkg/differ"
	"github.com/agentstation/zenginsync/pkg/errors"
	"github.com/agentstation/zenginsync/pkg/zengin"
)

// BOM makes spreadsheet applications detect UTF-8.
const BOM = "\ufeff"

// Header is the CSV header row.
var Header = []string{
	"アクション",
	"銀行コード",
	"支店コード",
	"旧銀行名",
	"新銀行名",
	"旧銀行カナ",
	"新銀行カナ",
	"旧支店名",
	"新支店名",
	"旧支店カナ",
	"新支店カナ",
	"変更フィールド",
	"影響アカウント数",
	"稼働ユーザー数",
}

var actionLabels = map[zengin.Action]string{
	zengin.ActionCreate: "新規追加",
	zengin.ActionUpdate: "更新",
	zengin.ActionDelete: "削除",
}

var fieldLabels = map[string]string{
	zengin.FieldBankName:       "銀行名",
	zengin.FieldBankNameKana:   "銀行カナ",
	zengin.FieldBranchName:     "支店名",
	zengin.FieldBranchNameKana: "支店カナ",
}

// Filename names an export created at t.
func Filename(t time.Time) string {
	return "zengin_diff_" + t.In(zengin.Tokyo).Format("20060102_150405") + ".csv"
}

// Sort returns a copy of entries ordered by affected accounts, then active
// users (both descending), then key.
func Sort(entries []zengin.DiffEntry) []zengin.DiffEntry {
	out := slices.Clone(entries)
	slices.SortStableFunc(out, func(a, b zengin.DiffEntry) int {
		if a.TotalAccounts != b.TotalAccounts {
			return b.TotalAccounts - a.TotalAccounts
		}
		if a.ActiveUsers != b.ActiveUsers {
			return b.ActiveUsers - a.ActiveUsers
		}
		return strings.Compare(a.Key, b.Key)
	})
	return out
}

// Write renders entries as CSV to w, BOM and header first.
func Write(w io.Writer, entries []zengin.DiffEntry) error {
	if _, err := io.WriteString(w, BOM); err != nil {
		return errors.WrapIO("write", "csv", err)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return errors.WrapIO("write", "csv", err)
	}
	for _, e := range Sort(entries) {
		if err := cw.Write(Row(e)); err != nil {
			return errors.WrapIO("write", "csv", err)
		}
	}
	cw.Flush()
	return errors.WrapIO("flush", "csv", cw.Error())
}

// CSV renders entries into memory.
func CSV(entries []zengin.DiffEntry) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, entries); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Row renders one entry. Delete rows keep the new columns empty.
func Row(e zengin.DiffEntry) []string {
	var old, updated zengin.Snapshot
	if e.OldData != nil {
		old = *e.OldData
	}
	if e.NewData != nil && e.Action != zengin.ActionDelete {
		updated = *e.NewData
	}
	key := e.EntityKey()
	row := []string{
		actionLabels[e.Action],
		key.SwiftCode,
		key.BranchCode,
		old.BankName,
		updated.BankName,
		old.BankNameKana,
		updated.BankNameKana,
		old.BranchName,
		updated.BranchName,
		old.BranchNameKana,
		updated.BranchNameKana,
		changedFields(e),
		strconv.Itoa(e.TotalAccounts),
		strconv.Itoa(e.ActiveUsers),
	}
	for i := range row {
		row[i] = strings.TrimSpace(row[i])
	}
	return row
}

func changedFields(e zengin.DiffEntry) string {
	switch e.Action {
	case zengin.ActionCreate:
		return "全項目"
	case zengin.ActionUpdate:
		fields := differ.ChangedFields(e.OldData, e.NewData)
		labels := make([]string, len(fields))
		for i, f := range fields {
			labels[i] = fieldLabels[f]
		}
		return strings.Join(labels, "、")
	}
	return ""
}

// File renders entries as the CSV attachment posted to an approval thread.
func File(entries []zengin.DiffEntry, at time.Time) (notify.File, error) {
	content, err := CSV(entries)
	if err != nil {
		return notify.File{}, err
	}
	return notify.File{
		Name:    Filename(at),
		Title:   notify.CSVTitle,
		Comment: notify.CSVComment,
		Content: content,
	}, nil
}
