// Package dataset lists labelled sample videos laid out as root/<Class>/<file>.
package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/crimewatch/crimewatch/internal/labels"
	"github.com/crimewatch/crimewatch/internal/video"
)

// Sample is one labelled video.
type Sample struct {
	Path  string
	Label int
	Class string
}

// Scan returns the samples under root in class order, files sorted by name.
// Directories that are not catalog classes and non-video files are skipped.
func Scan(root string, catalog *labels.Catalog) ([]Sample, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("dataset root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("dataset root %s is not a directory", root)
	}

	var samples []Sample
	for label, class := range catalog.Classes() {
		dir := filepath.Join(root, class)
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read class %s: %w", class, err)
		}

		var names []string
		for _, e := range entries {
			if e.IsDir() || !video.IsVideoFile(e.Name()) {
				continue
			}
			names = append(names, e.Name())
		}
		sort.Strings(names)

		for _, name := range names {
			samples = append(samples, Sample{
				Path:  filepath.Join(dir, name),
				Label: label,
				Class: class,
			})
		}
	}
	return samples, nil
}

// Confusion counts predictions per (actual, predicted) class pair.
type Confusion struct {
	classes []string
	counts  [][]int
}

func NewConfusion(classes []string) *Confusion {
	counts := make([][]int, len(classes))
	for i := range counts {
		counts[i] = make([]int, len(classes))
	}
	return &Confusion{classes: classes, counts: counts}
}

// Add records one prediction. Out-of-range indices are ignored.
func (c *Confusion) Add(actual, predicted int) {
	if actual < 0 || actual >= len(c.classes) || predicted < 0 || predicted >= len(c.classes) {
		return
	}
	c.counts[actual][predicted]++
}

func (c *Confusion) Count(actual, predicted int) int {
	return c.counts[actual][predicted]
}

func (c *Confusion) Classes() []string { return c.classes }

func (c *Confusion) Total() int {
	n := 0
	for _, row := range c.counts {
		for _, v := range row {
			n += v
		}
	}
	return n
}

// Accuracy is the fraction of samples on the diagonal, 0 when empty.
func (c *Confusion) Accuracy() float64 {
	total := c.Total()
	if total == 0 {
		return 0
	}
	correct := 0
	for i := range c.counts {
		correct += c.counts[i][i]
	}
	return float64(correct) / float64(total)
}
