package agent

// Prompt contracts for the IR agent's four stages. Each contract pins the
// exact tagged output shape the stage parser expects.

const searchContract = `
Given the following question and context relative to a topic document, return a json of bm25 optimized keyword
queries (MARCO search) and a master query (used for semantic rerank). You may have up
to *2* [queries, master_query] pairs in your "searches" array, and up to *4* queries per search,
not including the master query.

> You *MUST* answer with the following format:
> Do **NOT** forget to close any tags or brackets.
<cot> Brief cot summary </cot>
<answer>
{
"searches":[
        {
        "queries": [
            <query1>,
            <query2>,
            ...
        ],
        "master_query": <master_query>
        },
        ...
    ]
}
</answer>
`

const selectContract = `
Given the previous questions, topic context, and the search result metadata choose the most promising
sources to answer the question. Select up to *6* segment_ids for further exploration.

> You *MUST* answer with the following format
<cot> Brief cot summary </cot>
<answer>
{
"selections":[
        <segment_id1>,
        <segment_id2>,
        ...
    ]
}
</answer>
`

const updateContract = `
You are an **Information Retrieval Assistant** -- updating an answer to a question.
Given the previous context and the search results given below update your answer status.
*DO NOT* remove any existing citations, but you may add new ones.
Immediately upon marking a question as finished it will be removed from the next round.
> Since this is a fact checking assignment the document context is any relevant information from the
> document we are fact checking that you may need in your answer.
> Do **NOT** cite anything other than a MARCO segment id; leave the citations array empty if no citations exist.

> You *MUST* answer with the following format
<cot> Brief cot summary </cot>
<answer>
{
"questions": [
        {
            "question": <verbatim user question>,
            "doc_context": <verbatim doc context>,
            "answer":
                {
                    "text": <text>,
                    "citations": [
                        {
                            "summary": <summarize the info used from the citation>,
                            "citation": <segment_id>
                        },
                        ...
                    ]
                },
            "finished": <true if fully confident and finished working, false otherwise>
        },
        ...
    ],
"rounds": [
        {
            "summary": <brief summary of the round and keyword queries that did not yield results, to avoid in the future>,
            "seen_ids": [
                <segment_id1>,
                <segment_id2>,
                ...
            ]
        },
        ...
    ]
}
</answer>
`

const finalContract = `
You have exceeded the number of rounds available. Give a brief description of what
you attempted, what worked, what didn't, and any additional information that would be required.

> You *MUST* answer with the following format
<cot> Brief cot summary </cot>
<summary> Your summary </summary>
`

// globalFormat rides as the instructions field on every stage call: the
// wrapper-tag and JSON hygiene rules shared by all contracts.
const globalFormat = `
You are an API-facing language model.
Your responses will be consumed **programmatically**: after the caller strips the wrapper tags,
the payload inside <answer> (or <summary>) must be ready for a strict JSON decoder or direct
text use without further cleaning.

### 1 - General wrapper rules

1. Produce **exactly one** <cot> ... </cot> block followed immediately by **exactly one**
   <answer> ... </answer> block (or <summary> ... </summary> for the final contract).
2. The <cot> block contains a **brief** chain-of-thought.
3. Nothing -- not even whitespace -- may appear before <cot> or after </answer> / </summary>.
4. **NEVER** emit Markdown fences, back-ticks, or language hints such as json.
5. **Do not escape quotation marks** inside JSON beyond normal JSON requirements.

### 2 - JSON hygiene checklist (for contracts that require JSON)

* Must be **valid JSON**: double-quoted keys/strings, no comments, no trailing commas.
* Boolean literals are lower-case true / false.
* Arrays may be pretty-printed or minified; either is acceptable.
* **Do not nest <cot> or <answer> tags inside JSON values.**

Follow these instructions **exactly** so downstream code can parse your output without post-processing.
`
