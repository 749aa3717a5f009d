package notify

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/agentstation/zenginsync/pkg/zengin"
)

// Text is a Block Kit text object.
type Text struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Button is a Block Kit button element.
type Button struct {
	Type     string `json:"type"`
	Text     Text   `json:"text"`
	ActionID string `json:"action_id"`
	Value    string `json:"value,omitempty"`
	Style    string `json:"style,omitempty"`
}

// Block is a Block Kit layout block. Elements hold Buttons for actions
// blocks and Texts for context blocks.
type Block struct {
	Type     string `json:"type"`
	Text     *Text  `json:"text,omitempty"`
	Elements []any  `json:"elements,omitempty"`
}

// ButtonValue is the JSON value carried by approval buttons.
type ButtonValue struct {
	Action        string `json:"action"`
	ExecutionTime string `json:"execution_time,omitempty"`
	DiffID        string `json:"diff_id,omitempty"`
	Hours         int    `json:"hours,omitempty"`
}

// PreviewSize is the number of entries listed on the approval message.
const PreviewSize = 5

func mrkdwn(s string) *Text { return &Text{Type: "mrkdwn", Text: s} }

func plain(s string) Text { return Text{Type: "plain_text", Text: s} }

func section(s string) Block { return Block{Type: "section", Text: mrkdwn(s)} }

func button(label string, id zengin.ActionID, style string, value ButtonValue) Button {
	data, _ := json.Marshal(value)
	return Button{Type: "button", Text: plain(label), ActionID: string(id), Value: string(data), Style: style}
}

// ApprovalFallback is the notification text of an approval message.
func ApprovalFallback(batch *zengin.DiffBatch) string {
	return "全銀データの更新が検出されました: " + batch.Summary
}

// ApprovalBlocks renders the approval message of a run.
func ApprovalBlocks(runID string, batch *zengin.DiffBatch) []Block {
	blocks := []Block{
		{Type: "header", Text: &Text{Type: "plain_text", Text: "🏦 全銀データ更新通知"}},
		section(fmt.Sprintf("*概要:* %s\n*変更件数:* %d件", batch.Summary, batch.TotalChanges)),
		{Type: "divider"},
	}
	if len(batch.Entries) > 0 {
		blocks = append(blocks, section("*変更詳細:*"))
		for _, e := range batch.Entries[:min(len(batch.Entries), PreviewSize)] {
			blocks = append(blocks, section(entryLine(e)))
		}
		if rest := len(batch.Entries) - PreviewSize; rest > 0 {
			blocks = append(blocks, section(fmt.Sprintf("...他 %d件", rest)))
		}
	}

	v := func(action, when string) ButtonValue {
		return ButtonValue{Action: action, ExecutionTime: when, DiffID: runID}
	}
	blocks = append(blocks,
		Block{Type: "divider"},
		section("*この更新を承認しますか？*"),
		Block{Type: "actions", Elements: []any{
			button("✅ 承認（23:00実行）", zengin.ActionApprove, "primary", v("approve", "23:00")),
			button("⏰ 1時間後", zengin.ActionApproveOneHour, "", v("approve_1h", "1h")),
			button("⏰ 3時間後", zengin.ActionApproveThreeHour, "", v("approve_3h", "3h")),
		}},
		Block{Type: "actions", Elements: []any{
			button("⏰ 5時間後", zengin.ActionApproveFiveHour, "", v("approve_5h", "5h")),
			button("🚀 即時実行", zengin.ActionApproveImmediate, "primary", v("approve_immediate", "immediate")),
			button("❌ 却下", zengin.ActionReject, "danger", v("reject", "")),
		}},
		Block{Type: "actions", Elements: []any{
			button("📄 CSV出力", zengin.ActionExportCSV, "", v("export_csv", "")),
		}},
	)
	return blocks
}

var actionIcons = map[zengin.Action]string{
	zengin.ActionCreate: "🆕",
	zengin.ActionUpdate: "✏️",
	zengin.ActionDelete: "🗑️",
}

func entryLine(e zengin.DiffEntry) string {
	s := e.Snapshot()
	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s %s* (%s-%s)", actionIcons[e.Action], s.BankName, s.BranchName, s.SwiftCode, s.BranchCode)
	if e.TotalAccounts > 0 {
		fmt.Fprintf(&b, " (影響: %dアカウント", e.TotalAccounts)
		if e.ActiveUsers > 0 {
			fmt.Fprintf(&b, ", %d名稼働中", e.ActiveUsers)
		}
		b.WriteString(")")
	}
	if e.Action == zengin.ActionUpdate && e.OldData != nil && e.NewData != nil {
		if e.OldData.BankName != e.NewData.BankName {
			fmt.Fprintf(&b, "\n  • 銀行名: %s → %s", e.OldData.BankName, e.NewData.BankName)
		}
		if e.OldData.BranchName != e.NewData.BranchName {
			fmt.Fprintf(&b, "\n  • 支店名: %s → %s", e.OldData.BranchName, e.NewData.BranchName)
		}
	}
	return b.String()
}

// NoChangesFallback is the notification text of a detection without changes.
const NoChangesFallback = "銀行情報の更新はありませんでした"

// NoChangesBlocks renders the notice of a detection without changes.
func NoChangesBlocks(at time.Time) []Block {
	return []Block{
		section(fmt.Sprintf("ℹ️ *全銀データ更新チェック完了*\n%s\n*チェック時刻*: %s JST", NoChangesFallback, zengin.FormatJST(at))),
	}
}

// OutcomeKind classifies the replacement of an approval message.
type OutcomeKind string

// Outcome kinds.
const (
	OutcomeScheduled OutcomeKind = "scheduled"
	OutcomeImmediate OutcomeKind = "immediate"
	OutcomeRejected  OutcomeKind = "rejected"
	OutcomeFailed    OutcomeKind = "failed"
)

// Outcome replaces the buttons of an approval message once a decision is made.
type Outcome struct {
	Kind        OutcomeKind
	User        string
	ScheduledAt time.Time
	Relative    bool
	Error       string
}

// Text renders the outcome line.
func (o Outcome) Text() string {
	switch o.Kind {
	case OutcomeImmediate:
		return fmt.Sprintf("🚀 *即時実行承認* by %s\n処理を開始しました。詳細はスレッドを確認して下さい", o.User)
	case OutcomeScheduled:
		label := "✅ *承認済み*"
		if o.Relative {
			label = "⏰ *時間指定承認*"
		}
		return fmt.Sprintf("%s by %s\n実行予定時刻: %s JST", label, o.User, zengin.FormatJST(o.ScheduledAt))
	case OutcomeRejected:
		return fmt.Sprintf("❌ *却下済み* by %s\n処理を中止しました。", o.User)
	default:
		text := "❌ *処理エラー*"
		if o.User != "" {
			text += fmt.Sprintf(" (要求者: %s)", o.User)
		}
		return text + "\n" + o.Error
	}
}

// CompletionText renders the threaded completion notice of an execution.
func CompletionText(runID, approvedBy string, result *zengin.ExecutionResult, at time.Time) string {
	title, status := "🎉 全銀データ更新完了", "✅ 成功"
	if !result.Success {
		title, status = "⚠️ 全銀データ更新エラー", "❌ エラー"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n*ステータス*: %s\n*処理件数*: %d件\n", title, status, result.ProcessedCount)
	if result.ErrorCount > 0 {
		fmt.Fprintf(&b, "*エラー件数*: %d件\n", result.ErrorCount)
	}
	if approvedBy != "" {
		fmt.Fprintf(&b, "*承認者*: %s\n", approvedBy)
	}
	fmt.Fprintf(&b, "*実行時刻*: %s JST\n*詳細*: %s", zengin.FormatJST(at), result.Details)
	if len(result.Errors) > 0 {
		b.WriteString("\n\n*エラー詳細*:\n")
		for i, e := range result.Errors[:min(len(result.Errors), 5)] {
			fmt.Fprintf(&b, "%d. %s\n", i+1, e)
		}
		if rest := len(result.Errors) - 5; rest > 0 {
			fmt.Fprintf(&b, "...他 %d件のエラー", rest)
		}
	}
	fmt.Fprintf(&b, "\n\n_Diff ID: %s_", runID)
	return b.String()
}

// DuplicateText renders the warning posted when an action hits a run that
// already left pending.
func DuplicateText(user string, action zengin.ActionID, status zengin.Status, at time.Time) string {
	return fmt.Sprintf("⚠️ *重複操作検知*\n*ユーザー*: %s\n*操作*: %s\n*状態*: %s\n*メッセージ*: この処理は既に実行済みです。\n*時刻*: %s JST",
		user, action, status, zengin.FormatJST(at))
}

// ErrorText renders an error notice.
func ErrorText(kind, message string, details map[string]string, at time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 *エラー発生*\n*タイプ*: %s\n*メッセージ*: %s\n", kind, message)
	if len(details) > 0 {
		b.WriteString("*詳細*:\n")
		for _, k := range slices.Sorted(maps.Keys(details)) {
			fmt.Fprintf(&b, "• %s: %s\n", k, details[k])
		}
	}
	fmt.Fprintf(&b, "*時刻*: %s JST", zengin.FormatJST(at))
	return b.String()
}

// CSVComment is posted with an exported CSV file.
const CSVComment = "📄 全ての差分データをCSVファイルで出力しました。"

// CSVTitle is the title of an exported CSV file.
const CSVTitle = "全銀データ差分一覧"
