package agent

import (
	"fmt"
	"strings"

	"github.com/landmarklabs/sqlchat/agent/pkg/memory"
)

const (
	tableSelectSystem = `You route analytics questions to database tables.
Given a question, recent conversation context and the list of available tables,
reply with a JSON array of the table names needed to answer the question.
Use only names from the provided list. Reply with the JSON array only.`

	generateSystem = `You are a PostgreSQL analyst. Given table definitions and a
question, write exactly one SELECT statement that answers it.
Rules:
- Use only tables and columns from the definitions.
- Read-only: never write INSERT, UPDATE, DELETE or any DDL.
- Prefer explicit column lists over SELECT *.
Reply with the SQL statement only, no explanation.`

	summarySystem = `You summarize SQL query results in plain language.
State only what the rows show. Never invent numbers, names or trends that are
not present in the data. Keep it to one or two sentences.`

	suggestionSystem = `You propose follow-up questions for a data conversation.
Given the question just answered and its summary, reply with a JSON array of
up to five short follow-up questions a user might ask next. JSON array only.`

	correctionSystem = `You fix broken PostgreSQL statements. Given the table
definitions, the original question, the failing SQL and the database error,
reply with a corrected SELECT statement. Reply with the SQL only.`

	visualizeSystem = `You choose a chart type for a SQL result. Given the
question, the SQL and a sample of the result, reply with a JSON object
{"kind": "...", "reason": "..."} where kind is one of: bar, horizontal_bar,
line, pie, scatter, table, none. JSON only.`
)

func renderContext(entries []memory.Entry) string {
	if len(entries) == 0 {
		return "(no prior conversation)"
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "Q: %s\nSQL: %s\nA: %s\n", e.Question, e.SQL, e.Summary)
	}
	return b.String()
}

func tableSelectPrompt(question string, entries []memory.Entry, tables []string) string {
	return fmt.Sprintf("Available tables:\n%s\n\nConversation so far:\n%s\nQuestion: %s",
		strings.Join(tables, "\n"), renderContext(entries), question)
}

func generatePrompt(question string, entries []memory.Entry, ddlBundle string) string {
	return fmt.Sprintf("Table definitions:\n\n%s\n\nConversation so far:\n%s\nQuestion: %s",
		ddlBundle, renderContext(entries), question)
}

func summaryPrompt(question, sql string, table Table, sampleRows int) string {
	return fmt.Sprintf("Question: %s\nSQL: %s\n\nResult (%d rows):\n%s",
		question, sql, len(table.Rows), renderSample(table, sampleRows))
}

func suggestionPrompt(question, summary string) string {
	return fmt.Sprintf("Question just answered: %s\nAnswer summary: %s", question, summary)
}

func correctionPrompt(question, sql, errMsg, ddlBundle string) string {
	return fmt.Sprintf("Table definitions:\n\n%s\n\nQuestion: %s\nFailing SQL: %s\nDatabase error: %s",
		ddlBundle, question, sql, errMsg)
}

func visualizePrompt(question, sql string, table Table, sampleRows int) string {
	return fmt.Sprintf("Question: %s\nSQL: %s\nResult sample:\n%s",
		question, sql, renderSample(table, sampleRows))
}

// renderSample renders up to n rows as pipe-separated text for LM input.
func renderSample(table Table, n int) string {
	var b strings.Builder
	b.WriteString(strings.Join(table.Columns, " | "))
	b.WriteString("\n")
	for i, row := range table.Rows {
		if i >= n {
			fmt.Fprintf(&b, "... (%d more rows)\n", len(table.Rows)-n)
			break
		}
		cells := make([]string, len(row))
		for j, v := range row {
			if v == nil {
				cells[j] = "NULL"
			} else {
				cells[j] = fmt.Sprintf("%v", v)
			}
		}
		b.WriteString(strings.Join(cells, " | "))
		b.WriteString("\n")
	}
	return b.String()
}
