// Command speak streams text to a running bridge and writes the returned PCM
// to a file. Reads text from -text or stdin.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

func main() {
	server := flag.String("server", "ws://127.0.0.1:8000", "bridge base URL")
	sessionID := flag.String("session", "", "session id (random when empty)")
	credential := flag.String("credential", os.Getenv("ELEVENLABS_API_KEY"), "vendor API key")
	voiceID := flag.String("voice", "", "voice id")
	modelID := flag.String("model", "", "model id (server default when empty)")
	text := flag.String("text", "", "text to synthesize (stdin when empty)")
	out := flag.String("out", "out.pcm", "output file for raw PCM audio")
	flag.Parse()

	if *credential == "" || *voiceID == "" {
		fmt.Println("usage: speak -credential=KEY -voice=VOICE [-text=...]")
		os.Exit(1)
	}
	id := *sessionID
	if id == "" {
		id = uuid.NewString()
	}

	audio, _, err := websocket.DefaultDialer.Dial(*server+"/ws/audio/"+id, nil)
	if err != nil {
		fmt.Println("dial audio:", err)
		os.Exit(1)
	}
	defer audio.Close()

	ingest, _, err := websocket.DefaultDialer.Dial(*server+"/ws/text/"+id, nil)
	if err != nil {
		fmt.Println("dial text:", err)
		os.Exit(1)
	}
	defer ingest.Close()

	send := func(v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return ingest.WriteMessage(websocket.TextMessage, b)
	}
	cfg := map[string]string{"credential": *credential, "voice_id": *voiceID}
	if *modelID != "" {
		cfg["model_id"] = *modelID
	}
	if err := send(cfg); err != nil {
		fmt.Println("send config:", err)
		os.Exit(1)
	}

	if *text != "" {
		_ = send(map[string]string{"type": "text_delta", "text": *text})
	} else {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			_ = send(map[string]string{"type": "text_delta", "text": scanner.Text() + " "})
		}
	}
	if err := send(map[string]string{"type": "end"}); err != nil {
		fmt.Println("send end:", err)
		os.Exit(1)
	}

	f, err := os.Create(*out)
	if err != nil {
		fmt.Println("create output:", err)
		os.Exit(1)
	}
	defer f.Close()

	total := 0
	for {
		_ = audio.SetReadDeadline(time.Now().Add(10 * time.Second))
		_, payload, err := audio.ReadMessage()
		if err != nil {
			break
		}
		if _, err := f.Write(payload); err != nil {
			fmt.Println("write output:", err)
			os.Exit(1)
		}
		total += len(payload)
	}
	fmt.Printf("session %s: wrote %d bytes to %s\n", id, total, *out)
}
