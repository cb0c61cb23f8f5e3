package activities

// Prompt templates for the research pipeline. All structured outputs are
// requested as bare JSON; llm.ParseJSON tolerates fenced responses anyway.

const planQueriesSystemPrompt = `You are an expert technical writer planning a research report.

Report topic:
%s

Report organization:
%s

Generate %d web search queries that will gather the information needed to plan
the report sections. The queries should cover the breadth of the topic and be
specific enough to return high quality sources.

Respond with JSON only: {"queries": ["...", "..."]}`

const planSectionsSystemPrompt = `You are an expert technical writer organizing a research report.

Report topic:
%s

Report organization:
%s

Use this context gathered from web searches:
%s

Produce the list of report sections. Each section needs a name, a one or two
sentence description of what it covers, and a research flag: true when the
section needs web research, false for sections like introductions or
conclusions that distill the rest of the report.
%s
Respond with JSON only:
{"sections": [{"name": "...", "description": "...", "research": true}]}`

const summarizeDocumentSystemPrompt = `Summarize the following document so the summary can steer the writing of a
research report. Preserve concrete facts, figures and named entities. Keep it
under 400 words.

Document:
%s`

const sectionQueriesSystemPrompt = `You are researching one section of a technical report.

Section name: %s
Section scope: %s

Generate %d web search queries that will surface authoritative sources for
this section.

Respond with JSON only: {"queries": ["...", "..."]}`

const writeSectionSystemPrompt = `You are an expert technical writer. Write one section of a research report.

Report topic:
%s

Section name: %s
Section scope: %s
%s
Write the section in markdown. Aim for 150-300 words of tight, sourced prose.
End the section with a "### Sources" list of the web sources you relied on,
one "- Title: URL" entry per line.
%s
Sources:
%s`

const gradeSectionSystemPrompt = `You are reviewing one section of a research report against its scope.

Report topic:
%s

Section name: %s
Section scope: %s

Section content:
%s

Grade the section. "pass" means the content fully addresses the scope with
grounded facts. "fail" means information is missing or unsupported; in that
case also produce %d follow-up search queries targeting the gaps.

Respond with JSON only:
{"grade": "pass", "follow_up_queries": []}`

const writeFinalSectionSystemPrompt = `You are an expert technical writer finishing a research report.

Report topic:
%s

Section name: %s
Section scope: %s

This section does not get its own research. Write it from the completed
research sections below. Write in markdown, no sources list.

Completed sections:
%s`
