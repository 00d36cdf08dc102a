package connect

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	firebase "firebase.google.com/go"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type firebaseConfig struct {
	Type                    string `json:"type"`
	ProjectID               string `json:"project_id"`
	PrivateKeyID            string `json:"private_key_id"`
	PrivateKey              string `json:"private_key"`
	ClientEmail             string `json:"client_email"`
	ClientID                string `json:"client_id"`
	AuthURI                 string `json:"auth_uri"`
	TokenURI                string `json:"token_uri"`
	AuthProviderX509CertURL string `json:"auth_provider_x509_cert_url"`
	ClientX509CertURL       string `json:"client_x509_cert_url"`
	UniverseDomain          string `json:"universe_domain"`
}

func GetFirebaseConfiguration() (option.ClientOption, error) {
	config := firebaseConfig{
		Type:                    os.Getenv("FIREBASE_TYPE"),
		ProjectID:               os.Getenv("FIREBASE_PROJECT_ID"),
		PrivateKeyID:            os.Getenv("FIREBASE_PRIVATE_KEY_ID"),
		PrivateKey:              strings.ReplaceAll(os.Getenv("FIREBASE_PRIVATE_KEY"), "\\n", "\n"),
		ClientEmail:             os.Getenv("FIREBASE_CLIENT_EMAIL"),
		ClientID:                os.Getenv("FIREBASE_CLIENT_ID"),
		AuthURI:                 os.Getenv("FIREBASE_AUTH_URI"),
		TokenURI:                os.Getenv("FIREBASE_AUTH_TOKEN_URI"),
		AuthProviderX509CertURL: os.Getenv("FIREBASE_AUTH_PROVIDER_X509_CERT_URL"),
		ClientX509CertURL:       os.Getenv("FIREBASE_AUTH_CLIENT_X509_CERT_URL"),
		UniverseDomain:          os.Getenv("FIREBASE_UNIVERSE_DOMAIN"),
	}

	configBytes, err := json.Marshal(config)
	if err != nil {
		return nil, err
	}
	return option.WithCredentialsJSON(configBytes), nil
}

// GetStorageBucketName reads the bucket used for cloud file persistence.
// Empty means file payloads stay local-only.
func GetStorageBucketName() string {
	return os.Getenv("FIREBASE_STORAGE_BUCKET")
}

// FirestoreRoomStore is the production RoomStore: one document per room in
// the rooms collection, candidates appended to per-side subcollections, and
// snapshot listeners doing the push-style watches.
type FirestoreRoomStore struct {
	app    *firebase.App
	client *firestore.Client
	logger logging.LeveledLogger
}

// CreateFirestoreRoomStore connects to Firestore with credentials from the
// environment.
func CreateFirestoreRoomStore(ctx context.Context, loggerFactory logging.LoggerFactory) (*FirestoreRoomStore, error) {
	configuration, err := GetFirebaseConfiguration()
	if err != nil {
		return nil, fmt.Errorf("error while building firebase configuration: %w", err)
	}

	app, err := firebase.NewApp(ctx, nil, configuration)
	if err != nil {
		return nil, fmt.Errorf("error while creating firebase app: %w", err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("error while creating firestore client: %w", err)
	}

	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}

	return &FirestoreRoomStore{
		app:    app,
		client: client,
		logger: loggerFactory.NewLogger("firestore"),
	}, nil
}

// Firestore exposes the underlying client so the cloud persistence layer can
// share one connection.
func (store *FirestoreRoomStore) Firestore() *firestore.Client {
	return store.client
}

// StorageBucket resolves the configured storage bucket through the firebase
// app, or nil when no bucket is configured.
func (store *FirestoreRoomStore) StorageBucket(ctx context.Context) (*storage.BucketHandle, error) {
	name := GetStorageBucketName()
	if name == "" {
		return nil, nil
	}

	storageClient, err := store.app.Storage(ctx)
	if err != nil {
		return nil, fmt.Errorf("error while creating storage client: %w", err)
	}
	return storageClient.Bucket(name)
}

func (store *FirestoreRoomStore) roomRef(roomID string) *firestore.DocumentRef {
	return store.client.Collection(CollectionRooms).Doc(roomID)
}

func (store *FirestoreRoomStore) CreateRoom(ctx context.Context) (string, error) {
	ref := store.client.Collection(CollectionRooms).NewDoc()
	if _, err := ref.Create(ctx, map[string]interface{}{}); err != nil {
		return "", fmt.Errorf("error while creating room document: %w", err)
	}
	return ref.ID, nil
}

func (store *FirestoreRoomStore) GetRoom(ctx context.Context, roomID string) (RoomSnapshot, error) {
	snapshot, err := store.roomRef(roomID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return RoomSnapshot{Exists: false}, nil
	}
	if err != nil {
		return RoomSnapshot{}, fmt.Errorf("error while fetching room %s: %w", roomID, err)
	}
	return roomSnapshotFromDoc(snapshot), nil
}

func (store *FirestoreRoomStore) SetOffer(ctx context.Context, roomID string, offer SessionDescription) error {
	if _, err := store.roomRef(roomID).Set(ctx, map[string]interface{}{
		FieldOffer: map[string]interface{}{
			FieldSDP:  offer.SDP,
			FieldType: offer.Type,
		},
	}, firestore.MergeAll); err != nil {
		return fmt.Errorf("error while setting offer on room %s: %w", roomID, err)
	}
	return nil
}

func (store *FirestoreRoomStore) SetAnswer(ctx context.Context, roomID string, answer SessionDescription) error {
	if _, err := store.roomRef(roomID).Update(ctx, []firestore.Update{
		{Path: FieldAnswer, Value: map[string]interface{}{
			FieldSDP:  answer.SDP,
			FieldType: answer.Type,
		}},
	}); err != nil {
		return fmt.Errorf("error while setting answer on room %s: %w", roomID, err)
	}
	return nil
}

func (store *FirestoreRoomStore) DeleteRoom(ctx context.Context, roomID string) error {
	if _, err := store.roomRef(roomID).Delete(ctx); err != nil {
		return fmt.Errorf("error while deleting room %s: %w", roomID, err)
	}
	return nil
}

func (store *FirestoreRoomStore) AddCallerCandidate(ctx context.Context, roomID string, candidate webrtc.ICECandidateInit) error {
	return store.addCandidate(ctx, roomID, CollectionCallerCandidates, candidate)
}

func (store *FirestoreRoomStore) AddCalleeCandidate(ctx context.Context, roomID string, candidate webrtc.ICECandidateInit) error {
	return store.addCandidate(ctx, roomID, CollectionCalleeCandidates, candidate)
}

func (store *FirestoreRoomStore) addCandidate(ctx context.Context, roomID, side string, candidate webrtc.ICECandidateInit) error {
	if _, _, err := store.roomRef(roomID).Collection(side).Add(ctx, candidateToMap(candidate)); err != nil {
		return fmt.Errorf("error while adding %s entry for room %s: %w", side, roomID, err)
	}
	return nil
}

func (store *FirestoreRoomStore) WatchRoom(ctx context.Context, roomID string, onChange func(RoomSnapshot)) (UnsubscribeFunc, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	iter := store.roomRef(roomID).Snapshots(watchCtx)

	go func() {
		defer iter.Stop()
		for {
			snapshot, err := iter.Next()
			if err != nil {
				if watchCtx.Err() == nil {
					store.logger.Warnf("room watch for %s ended: %v", roomID, err)
				}
				return
			}
			if !snapshot.Exists() {
				onChange(RoomSnapshot{Exists: false})
				continue
			}
			onChange(roomSnapshotFromDoc(snapshot))
		}
	}()

	return func() { cancel() }, nil
}

func (store *FirestoreRoomStore) WatchCallerCandidates(ctx context.Context, roomID string, onAdded func(webrtc.ICECandidateInit)) (UnsubscribeFunc, error) {
	return store.watchCandidates(ctx, roomID, CollectionCallerCandidates, onAdded)
}

func (store *FirestoreRoomStore) WatchCalleeCandidates(ctx context.Context, roomID string, onAdded func(webrtc.ICECandidateInit)) (UnsubscribeFunc, error) {
	return store.watchCandidates(ctx, roomID, CollectionCalleeCandidates, onAdded)
}

func (store *FirestoreRoomStore) watchCandidates(ctx context.Context, roomID, side string, onAdded func(webrtc.ICECandidateInit)) (UnsubscribeFunc, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	iter := store.roomRef(roomID).Collection(side).Snapshots(watchCtx)

	go func() {
		defer iter.Stop()
		for {
			snapshot, err := iter.Next()
			if err != nil {
				if watchCtx.Err() == nil {
					store.logger.Warnf("%s watch for room %s ended: %v", side, roomID, err)
				}
				return
			}
			for _, change := range snapshot.Changes {
				// Candidate documents are append-only; only additions count.
				if change.Kind != firestore.DocumentAdded {
					continue
				}
				onAdded(candidateFromMap(change.Doc.Data()))
			}
		}
	}()

	return func() { cancel() }, nil
}

// Ping fetches a well-known document reference and treats any answer from
// the backend, including NotFound, as healthy.
func (store *FirestoreRoomStore) Ping(ctx context.Context) error {
	_, err := store.client.Collection(CollectionRooms).Doc("ping").Get(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return classifySignalError(err)
	}
	return nil
}

func (store *FirestoreRoomStore) Close() error {
	return store.client.Close()
}

func roomSnapshotFromDoc(snapshot *firestore.DocumentSnapshot) RoomSnapshot {
	data := snapshot.Data()
	return RoomSnapshot{
		Exists: true,
		Offer:  descriptionFromField(data[FieldOffer]),
		Answer: descriptionFromField(data[FieldAnswer]),
	}
}

func descriptionFromField(field interface{}) *SessionDescription {
	value, ok := field.(map[string]interface{})
	if !ok {
		return nil
	}

	sdpText, ok := value[FieldSDP].(string)
	if !ok {
		return nil
	}
	sdpType, _ := value[FieldType].(string)

	return &SessionDescription{SDP: sdpText, Type: sdpType}
}

func candidateToMap(candidate webrtc.ICECandidateInit) map[string]interface{} {
	entry := map[string]interface{}{
		"candidate": candidate.Candidate,
	}
	if candidate.SDPMid != nil {
		entry["sdpMid"] = *candidate.SDPMid
	}
	if candidate.SDPMLineIndex != nil {
		entry["sdpMLineIndex"] = int64(*candidate.SDPMLineIndex)
	}
	if candidate.UsernameFragment != nil {
		entry["usernameFragment"] = *candidate.UsernameFragment
	}
	return entry
}

func candidateFromMap(data map[string]interface{}) webrtc.ICECandidateInit {
	candidate := webrtc.ICECandidateInit{}
	candidate.Candidate, _ = data["candidate"].(string)

	if mid, ok := data["sdpMid"].(string); ok {
		candidate.SDPMid = &mid
	}
	if index, ok := data["sdpMLineIndex"].(int64); ok {
		lineIndex := uint16(index)
		candidate.SDPMLineIndex = &lineIndex
	}
	if fragment, ok := data["usernameFragment"].(string); ok {
		candidate.UsernameFragment = &fragment
	}
	return candidate
}
