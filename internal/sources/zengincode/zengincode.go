// Package zengincode reads the authoritative bank/branch dataset published in
// the zengin-code source-data format: data/banks.json plus one
// data/branches/{bank_code}.json per bank.
package zengincode

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/agentstation/zenginsync/pkg/differ"
	"github.com/agentstation/zenginsync/pkg/errors"
	"github.com/agentstation/zenginsync/pkg/logging"
	"github.com/agentstation/zenginsync/pkg/zengin"
)

// DefaultBaseURL is the raw data directory of the public source-data repository.
const DefaultBaseURL = "https://raw.githubusercontent.com/zengin-code/source-data/master/data"

// defaultConcurrency bounds parallel branch file fetches.
const defaultConcurrency = 8

// Entry is one bank or branch record of the source-data files.
type Entry struct {
	Code string `json:"code"`
	Name string `json:"name"`
	Kana string `json:"kana"`
	Hira string `json:"hira"`
	Roma string `json:"roma"`
}

// Source produces the latest authoritative snapshots.
type Source struct {
	fetcher     fetcher
	concurrency int
}

// Option configures a Source.
type Option func(*Source)

// WithConcurrency sets how many branch files are fetched in parallel.
func WithConcurrency(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func newSource(f fetcher, opts ...Option) *Source {
	s := &Source{fetcher: f, concurrency: defaultConcurrency}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshots loads every bank and its branches and returns normalized snapshots
// sorted by key. A bank without a branch file yields a single head office row.
func (s *Source) Snapshots(ctx context.Context) ([]zengin.Snapshot, error) {
	logger := logging.FromContext(ctx)

	data, err := s.fetcher.fetch(ctx, "banks.json")
	if err != nil {
		return nil, errors.WrapResource("fetch", "banks", "banks.json", err)
	}
	var banks map[string]Entry
	if err := json.Unmarshal(data, &banks); err != nil {
		return nil, errors.WrapParse("json", "banks.json", err)
	}

	codes := make([]string, 0, len(banks))
	for code := range banks {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	rows := make([][]zengin.Snapshot, len(codes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, code := range codes {
		bank := banks[code]
		if bank.Code == "" {
			bank.Code = code
		}
		g.Go(func() error {
			branches, err := s.branches(gctx, bank.Code)
			if err != nil {
				return err
			}
			rows[i] = BankSnapshots(bank, branches)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []zengin.Snapshot
	for _, r := range rows {
		out = append(out, r...)
	}
	logger.Info().Int("banks", len(codes)).Int("branches", len(out)).Msg("Loaded authoritative dataset")
	return out, nil
}

func (s *Source) branches(ctx context.Context, bankCode string) (map[string]Entry, error) {
	path := "branches/" + bankCode + ".json"
	data, err := s.fetcher.fetch(ctx, path)
	if errors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WrapResource("fetch", "branches", bankCode, err)
	}
	var branches map[string]Entry
	if err := json.Unmarshal(data, &branches); err != nil {
		return nil, errors.WrapParse("json", path, err)
	}
	return branches, nil
}

// BankSnapshots normalizes one bank and its branches into snapshots sorted by branch code.
func BankSnapshots(bank Entry, branches map[string]Entry) []zengin.Snapshot {
	bankName := NormalizeBankName(bank.Name)
	bankKana := differ.CanonicalKana(bank.Kana)

	if len(branches) == 0 {
		return []zengin.Snapshot{{
			SwiftCode:      bank.Code,
			BankName:       bankName,
			BankNameKana:   bankKana,
			BranchCode:     zengin.HeadOfficeBranchCode,
			BranchName:     "本店",
			BranchNameKana: differ.CanonicalKana("ホンテン"),
		}}
	}

	out := make([]zengin.Snapshot, 0, len(branches))
	for code, br := range branches {
		if br.Code == "" {
			br.Code = code
		}
		out = append(out, zengin.Snapshot{
			SwiftCode:      bank.Code,
			BankName:       bankName,
			BankNameKana:   bankKana,
			BranchCode:     br.Code,
			BranchName:     NormalizeBranchName(br.Name),
			BranchNameKana: differ.CanonicalKana(br.Kana),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BranchCode < out[j].BranchCode })
	return out
}

var (
	bankSuffixes   = []string{"銀行", "信用金庫", "信用組合", "農協", "漁協", "労働金庫", "信託", "証券"}
	branchSuffixes = []string{"支店", "営業部", "出張所", "代理店", "本店", "店舗", "センター", "プラザ"}
)

// NormalizeBankName appends 銀行 unless the name already ends with an
// institution type suffix.
func NormalizeBankName(name string) string {
	return withSuffix(name, bankSuffixes, "銀行")
}

// NormalizeBranchName appends 支店 unless the name already ends with an
// office type suffix.
func NormalizeBranchName(name string) string {
	return withSuffix(name, branchSuffixes, "支店")
}

func withSuffix(name string, known []string, fallback string) string {
	if name == "" {
		return name
	}
	for _, suf := range known {
		if strings.HasSuffix(name, suf) {
			return name
		}
	}
	return name + fallback
}
