package ai

const AnalyzePrompt = `
# Task Context
You analyze a piece of captured content for a personal knowledge graph.

# Background Data
- Content type: %s
- Allowed entity types: [%s]
- Allowed relationship types: [%s]

# Detailed Task Description & Rules
- Extract the named items the content is about. For each give:
  - name: the item as written in the text
  - type: one of the allowed entity types
  - description: one or two sentences based strictly on the text
  - span: a short verbatim excerpt of the text where the item appears
  - confidence: 0.0-1.0, how sure you are that the item is real and correctly typed
- Report relationships only between items you extracted, using their exact names, one of
  the allowed relationship types, a confidence 0.0-1.0, and a short context sentence.
  Add source_type and target_type when an endpoint name is shared by items of different types.
- key_points: at most 5 short statements capturing the main ideas.
- tags: at most 10 lowercase topical tags.
- sentiment: one of positive, neutral, negative, mixed.
- summary: two or three sentences.
- Do not invent items or relationships that the text does not support.

# Content
%s

# Output Formatting
Return only the JSON object described by the schema.
`

const CategorizePrompt = `
# Task Context
You file a captured item into a knowledge base.

# Background Data
- Title: %s

# Detailed Task Description & Rules
- Choose one category from: development, learning, research, reference, news, tutorial,
  documentation, tool, design, business, personal, other.
- Give a free-text subcategory (for example "frontend frameworks").
- confidence: 0.0-1.0.
- suggested_tags: at most 8 lowercase tags.
- reasoning: one sentence.

# Content
%s

# Output Formatting
Return only the JSON object described by the schema.
`

const SummarizePrompt = `
# Task Context
You write brief summaries of saved content.

# Detailed Task Description & Rules
- Summarize the content in at most three sentences.
- Keep names, versions and numbers that matter.
- Do not add information that is not in the content.
- Answer with the summary text only.

# Content
%s
`
