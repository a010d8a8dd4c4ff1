package dataset

import (
	"fmt"

	"github.com/Aidin1998/analytics/pkg/numfmt"
)

// Info summarises the shape of a frame
type Info struct {
	Rows          int               `json:"rows"`
	Columns       int               `json:"columns"`
	ColumnNames   []string          `json:"column_names"`
	DataTypes     map[string]string `json:"data_types"`
	MissingValues map[string]int    `json:"missing_values"`
	MemoryUsage   string            `json:"memory_usage"`
}

// Describe computes Info for f
func Describe(f *Frame) Info {
	info := Info{
		Rows:          f.Len(),
		Columns:       f.Width(),
		ColumnNames:   f.Names(),
		DataTypes:     make(map[string]string, f.Width()),
		MissingValues: make(map[string]int, f.Width()),
	}
	for _, c := range f.columns {
		info.DataTypes[c.Name] = c.DType()
		info.MissingValues[c.Name] = c.Missing()
	}
	info.MemoryUsage = fmt.Sprintf("%.2f MB", numfmt.Round(float64(MemoryBytes(f))/1024/1024, 2))
	return info
}

// MemoryBytes estimates the in-memory footprint of the frame's cells
func MemoryBytes(f *Frame) int64 {
	var n int64
	for _, c := range f.columns {
		n += int64(len(c.Name))
		for _, v := range c.Values {
			switch t := v.(type) {
			case string:
				n += 16 + int64(len(t))
			case nil:
				n += 8
			default:
				n += 16
			}
		}
	}
	return n
}
