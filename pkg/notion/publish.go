package notion

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"

	"github.com/gradient-research/etwfe/internal/model"
)

// Notion caps one text content object at 2000 characters.
const maxTextLen = 2000

// PublishRun writes one page for the run into the given database, with the
// model formula and the aggregated effects rendered as page content. When a
// page for the run already exists (matched on the "Run ID" property) its
// properties are refreshed in place and no duplicate is created. Returns the
// page and whether it was newly created.
func PublishRun(ctx context.Context, c Client, dbID string, run *model.Run, effects []model.Effect) (*notionapi.Page, bool, error) {
	existing, err := FindRunPage(ctx, c, dbID, run.ID)
	if err != nil {
		return nil, false, err
	}

	props := buildRunProperties(run)

	if existing != nil {
		page, err := c.UpdatePage(ctx, string(existing.ID), &notionapi.PageUpdateRequest{
			Properties: props,
		})
		if err != nil {
			return nil, false, eris.Wrap(err, "notion: refresh run page")
		}
		return page, false, nil
	}

	page, err := c.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(dbID),
		},
		Properties: props,
		Children:   runPageBlocks(run, effects),
	})
	if err != nil {
		return nil, false, eris.Wrap(err, "notion: create run page")
	}
	return page, true, nil
}

// buildRunProperties converts a run to Notion page properties. The page title
// lands in "Name"; estimation metadata is stored as rich_text except the
// observation count, which is a number property.
func buildRunProperties(run *model.Run) notionapi.Properties {
	return notionapi.Properties{
		"Name": notionapi.TitleProperty{
			Type:  notionapi.PropertyTypeTitle,
			Title: textCells(pageTitle(run)),
		},
		"Run ID":  richTextProp(run.ID),
		"Outcome": richTextProp(run.Outcome),
		"Cohort":  richTextProp(run.GroupVar),
		"Policy":  richTextProp(run.Policy),
		"Family":  richTextProp(run.Family),
		"Vcov":    richTextProp(run.Vcov),
		"Observations": notionapi.NumberProperty{
			Type:   notionapi.PropertyTypeNumber,
			Number: float64(run.NObs),
		},
		"Fitted": richTextProp(run.CreatedAt.Format("2006-01-02 15:04")),
	}
}

// pageTitle names the page after the outcome, qualified by the dataset label
// when one was recorded.
func pageTitle(run *model.Run) string {
	if run.Dataset != "" {
		return fmt.Sprintf("%s (%s)", run.Outcome, run.Dataset)
	}
	return run.Outcome
}

// runPageBlocks renders the page body: the model formula followed by the
// aggregated effects table.
func runPageBlocks(run *model.Run, effects []model.Effect) []notionapi.Block {
	blocks := []notionapi.Block{
		heading2("Model"),
		paragraph(truncateText(run.Formula)),
	}
	if len(effects) > 0 {
		blocks = append(blocks, heading2("Aggregated effects"), effectsTable(effects))
	}
	return blocks
}

// effectsTable renders effect rows as a Notion table block with a header row.
func effectsTable(effects []model.Effect) notionapi.Block {
	rows := make(notionapi.Blocks, 0, len(effects)+1)
	rows = append(rows, tableRow("kind", "key", "estimate", "std err", "n"))
	for _, e := range effects {
		rows = append(rows, tableRow(
			string(e.Kind),
			e.KeyLabel(),
			formatNum(e.Estimate),
			formatNum(e.StdErr),
			strconv.Itoa(e.N),
		))
	}
	return notionapi.TableBlock{
		BasicBlock: notionapi.BasicBlock{
			Object: notionapi.ObjectTypeBlock,
			Type:   notionapi.BlockTypeTableBlock,
		},
		Table: notionapi.Table{
			TableWidth:      5,
			HasColumnHeader: true,
			Children:        rows,
		},
	}
}

func heading2(text string) notionapi.Block {
	return notionapi.Heading2Block{
		BasicBlock: notionapi.BasicBlock{
			Object: notionapi.ObjectTypeBlock,
			Type:   notionapi.BlockTypeHeading2,
		},
		Heading2: notionapi.Heading{RichText: textCells(text)},
	}
}

func paragraph(text string) notionapi.Block {
	return notionapi.ParagraphBlock{
		BasicBlock: notionapi.BasicBlock{
			Object: notionapi.ObjectTypeBlock,
			Type:   notionapi.BlockTypeParagraph,
		},
		Paragraph: notionapi.Paragraph{RichText: textCells(text)},
	}
}

func tableRow(cells ...string) notionapi.Block {
	row := make([][]notionapi.RichText, len(cells))
	for i, c := range cells {
		row[i] = textCells(c)
	}
	return notionapi.TableRowBlock{
		BasicBlock: notionapi.BasicBlock{
			Object: notionapi.ObjectTypeBlock,
			Type:   notionapi.BlockTypeTableRowBlock,
		},
		TableRow: notionapi.TableRow{Cells: row},
	}
}

func textCells(s string) []notionapi.RichText {
	return []notionapi.RichText{
		{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}},
	}
}

func richTextProp(s string) notionapi.RichTextProperty {
	return notionapi.RichTextProperty{
		Type:     notionapi.PropertyTypeRichText,
		RichText: textCells(s),
	}
}

func formatNum(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

func truncateText(s string) string {
	if len(s) <= maxTextLen {
		return s
	}
	return s[:maxTextLen-3] + "..."
}
