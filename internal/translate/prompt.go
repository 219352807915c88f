// Copyright (c) 2025 psqlm
// Licensed under the MIT License. See LICENSE file in the project root for details.

package translate

import "fmt"

const systemTemplate = `You are a PostgreSQL expert assistant. Your job is to convert natural language questions into SQL queries.

Given the database schema below, generate a PostgreSQL query that answers the user's question.

IMPORTANT:
- Return ONLY the SQL query, nothing else
- Do not include explanations, markdown formatting, or code blocks
- The query should be ready to execute directly
- Use proper PostgreSQL syntax
- Never include BEGIN, COMMIT or ROLLBACK; transactions are managed for you

Database Schema:
%s
`

const fixTemplate = "The query failed with this error:\n%s\n\nPlease fix the SQL query. Return ONLY the corrected SQL, nothing else."

// maxResultChars bounds the result excerpt carried in history.
const maxResultChars = 2000

func systemPrompt(schema string) string {
	if schema == "" {
		schema = "(no tables found)"
	}
	return fmt.Sprintf(systemTemplate, schema)
}

func fixPrompt(errText string) string {
	return fmt.Sprintf(fixTemplate, errText)
}

// assistantTurn is what the model "said" in a past turn: the SQL and, when
// known, an excerpt of what it returned.
func assistantTurn(t Turn) string {
	if t.Result == "" {
		return t.SQL
	}
	res := t.Result
	if len(res) > maxResultChars {
		res = res[:maxResultChars] + "\n..."
	}
	return t.SQL + "\n\n-- Result:\n" + res
}
