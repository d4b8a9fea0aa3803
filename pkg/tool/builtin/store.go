// Copyright 2026 Chalk Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package builtin provides the built-in analytics tools over the school
// performance dataset. All tools read from a shared SQLite-backed Store.
package builtin

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// School is one row of the school performance dataset.
type School struct {
	DBN          string  `json:"dbn"`
	Name         string  `json:"name"`
	Borough      string  `json:"borough"`
	District     int     `json:"district"`
	GradeBand    string  `json:"grade_band"`
	Enrollment   int     `json:"enrollment"`
	PovertyPct   float64 `json:"poverty_pct"`
	AttendancePct float64 `json:"attendance_pct"`
	GrowthScore  float64 `json:"growth_score"`
	AchievementScore float64 `json:"achievement_score"`
	PerPupilSpend float64 `json:"per_pupil_spend"`
}

// Metric names accepted by correlate_metrics and district_summary.
var metricColumns = map[string]string{
	"enrollment":        "enrollment",
	"poverty_pct":       "poverty_pct",
	"attendance_pct":    "attendance_pct",
	"growth_score":      "growth_score",
	"achievement_score": "achievement_score",
	"per_pupil_spend":   "per_pupil_spend",
}

// MetricNames returns the queryable metric names, for schema enums.
func MetricNames() []string {
	return []string{
		"enrollment", "poverty_pct", "attendance_pct",
		"growth_score", "achievement_score", "per_pupil_spend",
	}
}

func metricEnum() []interface{} {
	names := MetricNames()
	out := make([]interface{}, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out
}

func floatPtr(v float64) *float64 { return &v }

// Store is the SQLite-backed dataset store shared by the builtin tools.
// Read-heavy; a single *sql.DB handles concurrent tool executions.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the dataset database at path. Use
// ":memory:" for tests.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open dataset store: %w", err)
	}
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schools (
			dbn TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			borough TEXT NOT NULL,
			district INTEGER NOT NULL,
			grade_band TEXT NOT NULL DEFAULT '',
			enrollment INTEGER NOT NULL DEFAULT 0,
			poverty_pct REAL NOT NULL DEFAULT 0,
			attendance_pct REAL NOT NULL DEFAULT 0,
			growth_score REAL NOT NULL DEFAULT 0,
			achievement_score REAL NOT NULL DEFAULT 0,
			per_pupil_spend REAL NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_schools_borough ON schools(borough);
		CREATE INDEX IF NOT EXISTS idx_schools_district ON schools(district);
	`)
	if err != nil {
		return fmt.Errorf("create dataset schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert adds or replaces a school row. Used by the loader and tests.
func (s *Store) Insert(ctx context.Context, sc School) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO schools
			(dbn, name, borough, district, grade_band, enrollment,
			 poverty_pct, attendance_pct, growth_score, achievement_score, per_pupil_spend)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.DBN, sc.Name, sc.Borough, sc.District, sc.GradeBand, sc.Enrollment,
		sc.PovertyPct, sc.AttendancePct, sc.GrowthScore, sc.AchievementScore, sc.PerPupilSpend)
	if err != nil {
		return fmt.Errorf("insert school %s: %w", sc.DBN, err)
	}
	return nil
}

const schoolColumns = `dbn, name, borough, district, grade_band, enrollment,
	poverty_pct, attendance_pct, growth_score, achievement_score, per_pupil_spend`

func scanSchool(row interface{ Scan(...interface{}) error }) (School, error) {
	var sc School
	err := row.Scan(&sc.DBN, &sc.Name, &sc.Borough, &sc.District, &sc.GradeBand,
		&sc.Enrollment, &sc.PovertyPct, &sc.AttendancePct, &sc.GrowthScore,
		&sc.AchievementScore, &sc.PerPupilSpend)
	return sc, err
}

// SchoolFilter narrows a dataset query.
type SchoolFilter struct {
	Borough       string
	District      int
	MinPovertyPct float64
	MinGrowth     float64
	Limit         int
}

// Query returns schools matching the filter, highest growth first.
func (s *Store) Query(ctx context.Context, f SchoolFilter) ([]School, error) {
	var where []string
	var args []interface{}
	if f.Borough != "" {
		where = append(where, "borough = ? COLLATE NOCASE")
		args = append(args, f.Borough)
	}
	if f.District > 0 {
		where = append(where, "district = ?")
		args = append(args, f.District)
	}
	if f.MinPovertyPct > 0 {
		where = append(where, "poverty_pct >= ?")
		args = append(args, f.MinPovertyPct)
	}
	if f.MinGrowth > 0 {
		where = append(where, "growth_score >= ?")
		args = append(args, f.MinGrowth)
	}

	q := "SELECT " + schoolColumns + " FROM schools"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY growth_score DESC"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query schools: %w", err)
	}
	defer rows.Close()

	var out []School
	for rows.Next() {
		sc, err := scanSchool(rows)
		if err != nil {
			return nil, fmt.Errorf("scan school: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// Get returns the school with the given DBN, or sql.ErrNoRows.
func (s *Store) Get(ctx context.Context, dbn string) (School, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+schoolColumns+" FROM schools WHERE dbn = ?", dbn)
	return scanSchool(row)
}

// AllNames returns every (dbn, name) pair for fuzzy name matching.
func (s *Store) AllNames(ctx context.Context) ([]string, []string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT dbn, name FROM schools ORDER BY dbn")
	if err != nil {
		return nil, nil, fmt.Errorf("query school names: %w", err)
	}
	defer rows.Close()

	var dbns, names []string
	for rows.Next() {
		var dbn, name string
		if err := rows.Scan(&dbn, &name); err != nil {
			return nil, nil, err
		}
		dbns = append(dbns, dbn)
		names = append(names, name)
	}
	return dbns, names, rows.Err()
}

// MetricPair is one school's values for two metrics.
type MetricPair struct {
	DBN string
	X   float64
	Y   float64
}

// MetricPairs returns (x, y) values for two metrics, optionally scoped
// to a borough. Unknown metric names return an error before any query.
func (s *Store) MetricPairs(ctx context.Context, metricX, metricY, borough string) ([]MetricPair, error) {
	colX, ok := metricColumns[metricX]
	if !ok {
		return nil, fmt.Errorf("unknown metric %q", metricX)
	}
	colY, ok := metricColumns[metricY]
	if !ok {
		return nil, fmt.Errorf("unknown metric %q", metricY)
	}

	q := fmt.Sprintf("SELECT dbn, %s, %s FROM schools", colX, colY)
	var args []interface{}
	if borough != "" {
		q += " WHERE borough = ? COLLATE NOCASE"
		args = append(args, borough)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query metric pairs: %w", err)
	}
	defer rows.Close()

	var out []MetricPair
	for rows.Next() {
		var p MetricPair
		if err := rows.Scan(&p.DBN, &p.X, &p.Y); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DistrictAggregate is a per-district rollup of one metric.
type DistrictAggregate struct {
	District    int     `json:"district"`
	Borough     string  `json:"borough"`
	SchoolCount int     `json:"school_count"`
	Mean        float64 `json:"mean"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
}

// DistrictSummary aggregates one metric per district, optionally scoped
// to a borough.
func (s *Store) DistrictSummary(ctx context.Context, metric, borough string) ([]DistrictAggregate, error) {
	col, ok := metricColumns[metric]
	if !ok {
		return nil, fmt.Errorf("unknown metric %q", metric)
	}

	q := fmt.Sprintf(`SELECT district, MIN(borough), COUNT(*), AVG(%s), MIN(%s), MAX(%s)
		FROM schools`, col, col, col)
	var args []interface{}
	if borough != "" {
		q += " WHERE borough = ? COLLATE NOCASE"
		args = append(args, borough)
	}
	q += " GROUP BY district ORDER BY district"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query district summary: %w", err)
	}
	defer rows.Close()

	var out []DistrictAggregate
	for rows.Next() {
		var a DistrictAggregate
		if err := rows.Scan(&a.District, &a.Borough, &a.SchoolCount, &a.Mean, &a.Min, &a.Max); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Baselines returns citywide means for the core metrics, used to fill
// the response context on search and profile results.
func (s *Store) Baselines(ctx context.Context) (map[string]float64, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT AVG(poverty_pct), AVG(attendance_pct), AVG(growth_score), AVG(achievement_score)
		FROM schools`)
	var poverty, attendance, growth, achievement sql.NullFloat64
	if err := row.Scan(&poverty, &attendance, &growth, &achievement); err != nil {
		return nil, fmt.Errorf("query baselines: %w", err)
	}
	return map[string]float64{
		"citywide_poverty_pct":       poverty.Float64,
		"citywide_attendance_pct":    attendance.Float64,
		"citywide_growth_score":      growth.Float64,
		"citywide_achievement_score": achievement.Float64,
	}, nil
}

// Count returns the number of schools in the dataset.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schools").Scan(&n)
	return n, err
}
