// Package voicerag embeds the voice RAG pipeline in a Go program without the HTTP server.
//
// The client indexes PDFs into a vector collection and answers questions as text
// plus synthesized speech. Documents live in memory unless a Qdrant or Redis
// backend is configured.
//
//	client, _ := voicerag.New(ctx,
//	    voicerag.WithOpenAI(os.Getenv("OPENAI_API_KEY")),
//	    voicerag.WithQdrant("localhost:6334", ""),
//	    voicerag.WithPlaybackCommand("ffplay", "-f", "s16le", "-ar", "24000", "-ac", "1", "-nodisp", "-autoexit", "-"),
//	)
//	defer client.Close()
//
//	_, _ = client.IngestFile(ctx, "handbook.pdf")
//	answer, err := client.Ask(ctx, "How do I reset my password?", "sage")
//	if errors.Is(err, voicerag.ErrNoRelevantDocuments) {
//	    // nothing indexed matches the question
//	}
//	fmt.Println(answer.Text, answer.Sources)
package voicerag
