package ai

// ExtractPrompt drives entity/relationship extraction from narrative
// campaign content. Placeholders: entity types, source name, entity types,
// entity types.
const ExtractPrompt = `
# Task Context
You are an assistant that builds a knowledge graph for a tabletop campaign.
You will be given a passage of narrative content (session transcript, GM
notes, or worldbuilding prose) and must identify the entities and
relationships it describes.

# Detailed Task Description & Rules
- Identify every entity of the types [%s] mentioned in the passage.
- Source document: %s
- For each entity, produce a name (capitalized), a type from [%s], and a
  structured set of facts the passage states about it. Only record facts the
  passage supports; never invent details.
- Identify directed relationships between the entities you found. For each,
  name the source entity, the target entity, a relationship type, and a
  strength from 1 to 10 reflecting how strongly the passage supports it.
- Reuse exact entity names between the entities list and the relationships
  list so they can be joined.
- Mentioned-but-undescribed names (a place someone came from, a person only
  referenced) are still entities; give them an empty fact set.

# Immediate Task Description or Request
Extract all entities of types [%s] and the relationships between them from
the passage below. Return only the structured result.
`

// SummaryPrompt drives community summary generation. Placeholders:
// member roster text, relationship roster text.
const SummaryPrompt = `
# Task Context
You are an assistant that writes encyclopedia-style summaries for groups of
connected entities in a tabletop campaign's knowledge graph.

# Background Data
Entities in this community:
%s

Relationships among them:
%s

# Detailed Task Description & Rules
- Write a short title naming the community by its most central entities or
  its unifying theme.
- Write a summary (2-5 paragraphs) of who and what this community is, how
  its members relate, and why the grouping is coherent.
- List the names of the entities most central to the community, most
  central first.
- Use only the background data above; never invent details.

# Immediate Task Description or Request
Return the title, the summary text, and the key entity list as structured
output.
`

// ImpactPrompt scores how much a session delta changes the world state.
// Placeholder: the delta description.
const ImpactPrompt = `
# Task Context
You rate how significantly a change to a campaign's world state alters the
established narrative.

# Background Data
%s

# Immediate Task Description or Request
Respond with a single number between 0.0 (cosmetic detail) and 1.0
(campaign-defining upheaval). Respond with the number only.
`
