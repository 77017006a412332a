package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/mehebubhossain/apex-mdapi/internal/batch"
)

const (
	ansiReset = "\x1b[0m"
	ansiRed   = "\x1b[31m"
	ansiGreen = "\x1b[32m"
)

// humanizeType renders a metadata type name for table output, e.g.
// "CustomObject" becomes "Custom Object".
func humanizeType(metadataType string) string {
	var words []string
	var current strings.Builder
	for _, r := range metadataType {
		if unicode.IsUpper(r) && current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		words = append(words, current.String())
	}
	return cases.Title(language.Und).String(strings.Join(words, " "))
}

func itemOutcome(item *batch.Item) string {
	switch {
	case item.Succeeded():
		return "succeeded"
	case item.Failure != "":
		return "failed"
	case item.Terminal():
		return "failed"
	case item.Submitted():
		return "in progress"
	default:
		return "pending"
	}
}

func itemDetail(item *batch.Item) string {
	if item.Failure != "" {
		return item.Failure
	}
	if item.Status != nil {
		if item.Status.Message != "" {
			return item.Status.Message
		}
		return item.Status.State
	}
	return ""
}

func renderBatchItems(b *batch.Batch) string {
	headers := []string{"#", "Action", "Type", "Full Name", "Outcome", "Polls", "Detail"}
	rows := make([][]string, 0, len(b.Items))
	for _, item := range b.Items {
		rows = append(rows, []string{
			strconv.Itoa(item.Index),
			string(item.Payload.Action),
			humanizeType(item.Payload.Type),
			item.Payload.FullName,
			itemOutcome(item),
			strconv.Itoa(item.Polls),
			itemDetail(item),
		})
	}
	return renderTable(headers, rows, []columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft})
}

func colorizeOutcome(writer io.Writer, outcome string) string {
	if !shouldColorize(writer) {
		return outcome
	}
	switch outcome {
	case "succeeded":
		return ansiGreen + outcome + ansiReset
	case "failed":
		return ansiRed + outcome + ansiReset
	default:
		return outcome
	}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

func formatCounts(counts batch.Counts) string {
	return fmt.Sprintf("%d/%d", counts.Succeeded, counts.Total)
}
