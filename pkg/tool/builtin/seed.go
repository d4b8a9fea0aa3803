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

package builtin

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
)

// LoadCSV bulk-loads school rows from a CSV file with a header row:
// dbn,name,borough,district,grade_band,enrollment,poverty_pct,
// attendance_pct,growth_score,achievement_score,per_pupil_spend.
func (s *Store) LoadCSV(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open dataset csv: %w", err)
	}
	defer f.Close()
	return s.loadCSV(ctx, f)
}

func (s *Store) loadCSV(ctx context.Context, r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("read csv header: %w", err)
	}
	if len(header) != 11 {
		return 0, fmt.Errorf("expected 11 csv columns, got %d", len(header))
	}

	n := 0
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, fmt.Errorf("read csv row %d: %w", n+1, err)
		}
		sc, err := parseRow(rec)
		if err != nil {
			return n, fmt.Errorf("parse csv row %d: %w", n+1, err)
		}
		if err := s.Insert(ctx, sc); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func parseRow(rec []string) (School, error) {
	var sc School
	sc.DBN = rec[0]
	sc.Name = rec[1]
	sc.Borough = rec[2]

	district, err := strconv.Atoi(rec[3])
	if err != nil {
		return sc, fmt.Errorf("district: %w", err)
	}
	sc.District = district
	sc.GradeBand = rec[4]

	enrollment, err := strconv.Atoi(rec[5])
	if err != nil {
		return sc, fmt.Errorf("enrollment: %w", err)
	}
	sc.Enrollment = enrollment

	floats := []struct {
		dst *float64
		col int
		name string
	}{
		{&sc.PovertyPct, 6, "poverty_pct"},
		{&sc.AttendancePct, 7, "attendance_pct"},
		{&sc.GrowthScore, 8, "growth_score"},
		{&sc.AchievementScore, 9, "achievement_score"},
		{&sc.PerPupilSpend, 10, "per_pupil_spend"},
	}
	for _, f := range floats {
		v, err := strconv.ParseFloat(rec[f.col], 64)
		if err != nil {
			return sc, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = v
	}
	return sc, nil
}

// SeedSample loads a small representative dataset. Used by dev mode and
// tests so the service answers queries without an external data file.
func (s *Store) SeedSample(ctx context.Context) error {
	sample := []School{
		{DBN: "13K430", Name: "Brooklyn Technical High School", Borough: "Brooklyn", District: 13, GradeBand: "9-12", Enrollment: 5850, PovertyPct: 61.2, AttendancePct: 95.1, GrowthScore: 0.72, AchievementScore: 0.91, PerPupilSpend: 16950},
		{DBN: "14K071", Name: "Juan Morel Campos Secondary School", Borough: "Brooklyn", District: 14, GradeBand: "6-12", Enrollment: 420, PovertyPct: 88.4, AttendancePct: 86.3, GrowthScore: 0.58, AchievementScore: 0.41, PerPupilSpend: 24110},
		{DBN: "15K039", Name: "PS 39 Henry Bristow", Borough: "Brooklyn", District: 15, GradeBand: "K-5", Enrollment: 310, PovertyPct: 22.7, AttendancePct: 94.8, GrowthScore: 0.63, AchievementScore: 0.78, PerPupilSpend: 19800},
		{DBN: "02M475", Name: "Stuyvesant High School", Borough: "Manhattan", District: 2, GradeBand: "9-12", Enrollment: 3330, PovertyPct: 44.9, AttendancePct: 96.4, GrowthScore: 0.69, AchievementScore: 0.95, PerPupilSpend: 17420},
		{DBN: "06M322", Name: "Middle School 322", Borough: "Manhattan", District: 6, GradeBand: "6-8", Enrollment: 280, PovertyPct: 91.5, AttendancePct: 88.9, GrowthScore: 0.61, AchievementScore: 0.38, PerPupilSpend: 26480},
		{DBN: "10X445", Name: "Bronx School of Science Inquiry", Borough: "Bronx", District: 10, GradeBand: "6-8", Enrollment: 390, PovertyPct: 93.1, AttendancePct: 87.2, GrowthScore: 0.56, AchievementScore: 0.35, PerPupilSpend: 27310},
		{DBN: "11X253", Name: "Bronx Latin", Borough: "Bronx", District: 11, GradeBand: "6-12", Enrollment: 540, PovertyPct: 89.7, AttendancePct: 89.5, GrowthScore: 0.64, AchievementScore: 0.52, PerPupilSpend: 23890},
		{DBN: "25Q425", Name: "John Bowne High School", Borough: "Queens", District: 25, GradeBand: "9-12", Enrollment: 3120, PovertyPct: 72.6, AttendancePct: 88.1, GrowthScore: 0.51, AchievementScore: 0.47, PerPupilSpend: 18230},
		{DBN: "28Q440", Name: "Forest Hills High School", Borough: "Queens", District: 28, GradeBand: "9-12", Enrollment: 3840, PovertyPct: 58.3, AttendancePct: 90.6, GrowthScore: 0.59, AchievementScore: 0.66, PerPupilSpend: 16100},
		{DBN: "31R080", Name: "The Michael J. Petrides School", Borough: "Staten Island", District: 31, GradeBand: "K-12", Enrollment: 1330, PovertyPct: 39.8, AttendancePct: 93.2, GrowthScore: 0.6, AchievementScore: 0.71, PerPupilSpend: 18760},
	}
	for _, sc := range sample {
		if err := s.Insert(ctx, sc); err != nil {
			return err
		}
	}
	return nil
}
