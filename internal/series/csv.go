package series

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"
)

// LoadCSV 读取收益率 CSV：首列 date，其余列为各资产的日收益率。
// 数据由上游协作方清洗对齐，这里只做格式与 NaN 校验。
func LoadCSV(path, dateFormat string) (*Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening returns csv failed: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading returns csv failed: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("returns csv %s has no data rows: %w", path, ErrData)
	}
	header := records[0]
	if len(header) < 2 || strings.ToLower(strings.TrimSpace(header[0])) != "date" {
		return nil, fmt.Errorf("returns csv header must be date,<asset>,... (got %v)", header)
	}
	assets := make([]string, len(header)-1)
	for i, h := range header[1:] {
		h = strings.TrimSpace(h)
		if h == "" {
			return nil, fmt.Errorf("empty asset name in column %d", i+1)
		}
		assets[i] = h
	}

	rows := records[1:]
	dates := make([]time.Time, 0, len(rows))
	data := make([]float64, 0, len(rows)*len(assets))
	for li, rec := range rows {
		if len(rec) != len(header) {
			return nil, fmt.Errorf("row %d has %d fields, expected %d", li+2, len(rec), len(header))
		}
		d, err := time.Parse(dateFormat, strings.TrimSpace(rec[0]))
		if err != nil {
			return nil, fmt.Errorf("row %d: bad date %q: %w", li+2, rec[0], err)
		}
		dates = append(dates, d)
		for ci, cell := range rec[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d col %s: bad return %q: %w", li+2, assets[ci], cell, err)
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("row %d col %s: return is not finite", li+2, assets[ci])
			}
			data = append(data, v)
		}
	}
	return New(dates, assets, mat.NewDense(len(rows), len(assets), data))
}
