// Package wsbot implements the WikiSubmission Discord bot, which answers
// slash commands with Quran verses, search results, media transcripts,
// newsletter excerpts and prayer times from the WikiSubmission content API.
//
// Long results are split into embed-sized pages. The pages of a result
// are cached under the ID of the interaction that produced them, so the
// Previous/Next buttons on the reply can re-render any page without
// querying the content API again.
//
// Key components of the package include:
//
//   - Bot: owns the Discord session, HTTP servers and backing stores.
//   - ResultBuilder: fetches content, splits it into pages and renders the first page.
//   - PageCache: stores paginated results in a durable tier (database or
//     redis) with an in-process fallback.
//   - ContentAPI: the client for the WikiSubmission content API.
//   - API: a small health check server.
//
// Interactions may be received over the Discord gateway, or by running the
// optional webhook server.
package wsbot
